//go:build tools
// +build tools

// Package tools pins tool dependencies invoked through go generate (mockgen),
// so go.mod and go.sum stay in sync on a fresh checkout.
package chat_relay

import (
	_ "go.uber.org/mock/mockgen"
)
