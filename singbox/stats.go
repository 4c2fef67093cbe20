package singbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmvpn/warden/logger"

	statsService "github.com/xtls/xray-core/app/stats/command"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const statsTimeout = 5 * time.Second

// StatsClient queries per-user traffic counters over the daemon's
// v2ray-api gRPC endpoint. Counters are read with reset, so every
// query returns only the delta since the previous one.
type StatsClient struct {
	client statsService.StatsServiceClient
	conn   *grpc.ClientConn
}

func NewStatsClient(addr string) (*StatsClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	return &StatsClient{
		client: statsService.NewStatsServiceClient(conn),
		conn:   conn,
	}, nil
}

func (c *StatsClient) Close() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// QueryUserDelta returns the downlink and uplink bytes the key moved
// since the previous poll. Transport errors and absent counters read
// as zero: a key that never connected has no counters, and a flaky
// stats endpoint must not stall the enforcement loop.
func (c *StatsClient) QueryUserDelta(ctx context.Context, id string) (down int64, up int64) {
	down = c.queryCounter(ctx, id, "downlink")
	up = c.queryCounter(ctx, id, "uplink")
	return down, up
}

func (c *StatsClient) queryCounter(ctx context.Context, id string, direction string) int64 {
	ctx, cancel := context.WithTimeout(ctx, statsTimeout)
	defer cancel()

	pattern := fmt.Sprintf("user>>>%s>>>traffic>>>%s", id, direction)
	resp, err := c.client.QueryStats(ctx, &statsService.QueryStatsRequest{
		Pattern: pattern,
		Reset_:  true,
	})
	if err != nil {
		// Normal when the key has not connected yet.
		logger.Debugf("stats query %s failed: %v", pattern, err)
		return 0
	}

	for _, stat := range resp.GetStat() {
		if strings.Contains(stat.GetName(), direction) {
			return stat.GetValue()
		}
	}
	return 0
}
