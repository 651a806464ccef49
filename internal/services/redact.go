/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package services

import (
    "regexp"
    "strings"
)

var (
    emailRe  = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+`)
    urlRe    = regexp.MustCompile(`https?://[^\s"]+`)
    tokenRe  = regexp.MustCompile(`(?i)\b(?:token|secret|password|apikey|api_key|bearer|basic)[:=\s]+[A-Za-z0-9\-\._~+/=]{8,}`)
    spacesRe = regexp.MustCompile(`\s+`)
)

const maxFailureLen = 300

// redactFailure turns a rule error into a single report line that is safe to
// post to a chat: credentials, mail addresses and request URLs are masked.
func redactFailure(err error) string {
    if err == nil { return "" }
    s := err.Error()
    s = tokenRe.ReplaceAllString(s, "<secret>")
    s = urlRe.ReplaceAllString(s, "<url>")
    s = emailRe.ReplaceAllString(s, "<email>")
    s = strings.TrimSpace(spacesRe.ReplaceAllString(s, " "))
    if r := []rune(s); len(r) > maxFailureLen { s = string(r[:maxFailureLen]) + "…" }
    return s
}
