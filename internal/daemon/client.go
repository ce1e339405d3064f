package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
)

// Call sends one request to the daemon at socket and waits for the reply.
// Toggle blocks until the operator has authenticated, so callers should not
// set a short deadline.
func Call(ctx context.Context, socket string, req Request) (Response, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socket)
	if err != nil {
		return Response{}, fmt.Errorf("daemon: connect: %w (is `btlock daemon` running?)", err)
	}
	defer conn.Close()

	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return Response{}, fmt.Errorf("daemon: send request: %w", err)
	}
	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return Response{}, fmt.Errorf("daemon: read response: %w", err)
	}
	return resp, nil
}
