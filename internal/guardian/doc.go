// Package guardian gates user messages before they touch storage or a
// model.
//
// Evaluation is two-tier. Tier one is a local phrase list covering
// prompt-injection and exfiltration tropes; a hit blocks immediately and
// never leaves the process. Tier two posts the message to a remote
// classifier, throttled and cached because classifier quota is the
// scarcest resource in the request path. The remote tier fails open by
// design: an unavailable classifier must not take the chat service down
// with it, so outages produce an allowed verdict that is logged, counted,
// and tagged guardian_unavailable.
package guardian
