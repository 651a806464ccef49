/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package domain

import (
    "errors"
    "fmt"
)

type FaultKind string

const (
    FaultConfig       FaultKind = "config"
    FaultConnectivity FaultKind = "connectivity"
    FaultCredential   FaultKind = "credential"
)

// StartupError is returned by constructors that must abort startup instead of
// leaving the process half initialized.
type StartupError struct {
    Kind FaultKind
    Op   string
    Err  error
}

func (e *StartupError) Error() string {
    return fmt.Sprintf("%s fault: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *StartupError) Unwrap() error { return e.Err }

func NewStartupError(kind FaultKind, op string, err error) *StartupError {
    return &StartupError{Kind: kind, Op: op, Err: err}
}

// FaultOf reports the startup fault kind carried by err, if any.
func FaultOf(err error) (FaultKind, bool) {
    var se *StartupError
    if errors.As(err, &se) { return se.Kind, true }
    return "", false
}
