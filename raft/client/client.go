// Package client provides a request/response façade over a local Raft node,
// so callers never touch the node's internal message bus directly.
package client

import (
	"context"

	"github.com/embermq/embermq/raft"
)

// Call is a request submitted to a local Raft node, paired with the channel
// its result is delivered on.
type Call struct {
	Request  raft.Request
	Response chan Result
}

// Result is the outcome of a Call.
type Result struct {
	Response raft.Response
	Err      error
}

// Client issues mutate/query/status requests against a local Raft node.
type Client struct {
	requests chan<- Call
}

// New builds a Client that submits requests over requests. The node side
// of that channel is expected to turn each Call into an Instruction/Message
// round-trip and deliver the result back on Call.Response.
func New(requests chan<- Call) *Client {
	return &Client{requests: requests}
}

func (c *Client) request(ctx context.Context, req raft.Request) (raft.Response, error) {
	respCh := make(chan Result, 1)
	select {
	case c.requests <- Call{Request: req, Response: respCh}:
	case <-ctx.Done():
		return raft.Response{}, ctx.Err()
	}
	select {
	case res := <-respCh:
		return res.Response, res.Err
	case <-ctx.Done():
		return raft.Response{}, ctx.Err()
	}
}

// Mutate submits a write command to the Raft cluster and waits for it to be
// applied.
func (c *Client) Mutate(ctx context.Context, command []byte) ([]byte, error) {
	resp, err := c.request(ctx, raft.Request{Kind: raft.RequestMutate, Command: command})
	if err != nil {
		return nil, err
	}
	if resp.Kind != raft.ResponseState {
		return nil, raft.NewInternalError("unexpected mutate response kind %v", resp.Kind)
	}
	return resp.State, nil
}

// Query reads the Raft-managed state machine.
func (c *Client) Query(ctx context.Context, command []byte) ([]byte, error) {
	resp, err := c.request(ctx, raft.Request{Kind: raft.RequestQuery, Command: command})
	if err != nil {
		return nil, err
	}
	if resp.Kind != raft.ResponseState {
		return nil, raft.NewInternalError("unexpected query response kind %v", resp.Kind)
	}
	return resp.State, nil
}

// Status reports the cluster status as observed by the local node.
func (c *Client) Status(ctx context.Context) (raft.Status, error) {
	resp, err := c.request(ctx, raft.Request{Kind: raft.RequestStatus})
	if err != nil {
		return raft.Status{}, err
	}
	if resp.Kind != raft.ResponseStatus {
		return raft.Status{}, raft.NewInternalError("unexpected status response kind %v", resp.Kind)
	}
	return resp.Status, nil
}
