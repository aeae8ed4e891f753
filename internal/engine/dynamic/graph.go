// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package dynamic

import "github.com/rapidaai/streamkit/pkg/streamkit/node"

// LiveNode is everything the engine tracks about one running node: its
// control channel, a done signal standing in for Rust's JoinHandle, and (for
// dynamic-pin nodes) the pin-management channel.
type LiveNode struct {
	ControlTx       chan<- node.ControlMessage
	Done            <-chan struct{}
	PinManagementTx chan<- node.PinManagementMessage
}
