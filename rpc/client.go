// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rpc

import (
	"context"
	"net"

	"github.com/kortschak/jsonrpc2"
)

// Client is a connection to a Server.
type Client struct {
	conn *jsonrpc2.Connection
}

// Dial returns a new Client connected to the server at the given network
// address.
func Dial(ctx context.Context, network, addr string, dialer net.Dialer) (*Client, error) {
	conn, err := jsonrpc2.Dial(ctx, jsonrpc2.NetDialer(network, addr, dialer), jsonrpc2.ConnectionOptions{})
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Who returns the version of the server.
func (c *Client) Who(ctx context.Context) (string, error) {
	var res WhoResult
	err := c.conn.Call(ctx, Who, None{}).Await(ctx, &res)
	return res.Version, err
}

// Split returns the frames of the GIF animation data as still images in
// the provided format. If format is empty the server's format is used.
// Operation failures are returned as an *ops.Error.
func (c *Client) Split(ctx context.Context, animation []byte, format string) ([][]byte, error) {
	var res SplitResult
	err := c.conn.Call(ctx, Split, SplitParams{Animation: animation, Format: format}).Await(ctx, &res)
	if err != nil {
		return nil, opsError(err)
	}
	return res.Frames, nil
}

// Merge returns a GIF animation of the provided still images. If duration
// is nil, the default duration is used. Operation failures are returned
// as an *ops.Error.
func (c *Client) Merge(ctx context.Context, images [][]byte, duration *float64) ([]byte, error) {
	return c.animation(ctx, Merge, MergeParams{Images: images, Duration: duration})
}

// Reverse returns the GIF animation data with its frames in reverse order.
// Operation failures are returned as an *ops.Error.
func (c *Client) Reverse(ctx context.Context, animation []byte) ([]byte, error) {
	return c.animation(ctx, Reverse, ReverseParams{Animation: animation})
}

// Retime returns the GIF animation data with every frame delay set to
// duration seconds. A duration that is not positive leaves delays
// unchanged. Operation
// failures are returned as an *ops.Error.
func (c *Client) Retime(ctx context.Context, animation []byte, duration float64) ([]byte, error) {
	return c.animation(ctx, Retime, RetimeParams{Animation: animation, Duration: duration})
}

func (c *Client) animation(ctx context.Context, method string, params any) ([]byte, error) {
	var res AnimationResult
	err := c.conn.Call(ctx, method, params).Await(ctx, &res)
	if err != nil {
		return nil, opsError(err)
	}
	return res.Animation, nil
}

// Close closes the client's connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
