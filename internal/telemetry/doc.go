// Package telemetry provides OpenTelemetry instrumentation for ragd.
//
// It manages the tracer and meter providers, exporting to an OTLP
// collector over gRPC or HTTP/protobuf. Provider initialization errors
// never crash the server; telemetry degrades to no-op providers and the
// degradation is logged.
//
// Create an instance at startup and shut it down on exit:
//
//	tel, err := telemetry.New(ctx, cfg.OTEL, logger)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	tracer := tel.Tracer("ragd.chat")
//	ctx, span := tracer.Start(ctx, "chat.turn")
//	defer span.End()
package telemetry
