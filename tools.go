//go:build tools
// +build tools

// Package chat_sync pins the code generators used by go:generate.
// mockgen produces mocks/mock_contract.go from contract/contract.go.
package chat_sync

import (
	_ "go.uber.org/mock/mockgen"
)
