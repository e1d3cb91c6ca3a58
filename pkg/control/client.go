package control

import (
	"context"
	"fmt"

	pb "github.com/rxanders35/fluxstate/proto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client is the producer's handle on a consumer's FluxControl service.
type Client struct {
	consumerAddr string
	conn         *grpc.ClientConn
	client       pb.FluxControlClient
}

func NewClient(consumerAddr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(consumerAddr, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrTransport, consumerAddr, err)
	}

	return &Client{
		consumerAddr: consumerAddr,
		conn:         conn,
		client:       pb.NewFluxControlClient(conn),
	}, nil
}

// SaveCheckpoint asks the consumer to capture the published region. The
// region's flag must already be raised. There is no retry here.
func (c *Client) SaveCheckpoint(ctx context.Context, reqID, regionPath string, expected uint32) (uint64, error) {
	req := &pb.SaveRequest{
		ReqId:               reqID,
		RegionName:          regionPath,
		ExpectedTensorCount: expected,
	}

	resp, err := c.client.SaveCheckpoint(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	if !resp.GetSuccess() {
		return 0, fmt.Errorf("%w: %s", ErrRejected, reqID)
	}
	return resp.GetBytesWritten(), nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}
