package sinks

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/suite"

	"meterhub/internal/meter"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// LiveSinksTestSuite exercises the sinks that need a server. Each test skips
// when its server is not reachable.
type LiveSinksTestSuite struct {
	suite.Suite
	ctx context.Context
}

func (s *LiveSinksTestSuite) SetupTest() {
	s.ctx = context.Background()
}

func (s *LiveSinksTestSuite) TestRedisLatestAndHistory() {
	sink, err := OpenRedisSink(s.ctx, RedisConfig{
		URL:           envOr("TEST_REDIS_URL", "redis://localhost:6379/15"),
		HistoryLength: 3,
		TTL:           time.Minute,
	}, nil)
	if err != nil {
		s.T().Skip("Redis not available, skipping integration tests")
	}
	defer sink.Close()

	sn := "it-" + time.Now().Format("150405.000000")
	defer sink.client.Del(s.ctx, latestKey(sn), historyKey(sn))

	for i := 0; i < 5; i++ {
		msg := sampleMessage(sn)
		msg.ID = string(rune('a' + i))
		s.Require().NoError(sink.Process(s.ctx, msg))
	}

	latest, err := sink.Latest(s.ctx, sn)
	s.Require().NoError(err)
	s.Require().NotNil(latest)
	s.Equal("e", latest.MessageID)
	s.Require().NotNil(latest.Data180)
	s.InDelta(120.5, *latest.Data180, 1e-9)

	history, err := sink.History(s.ctx, sn, 10)
	s.Require().NoError(err)
	s.Len(history, 3, "history is trimmed")
	s.Equal("e", history[0].MessageID)

	ttl, err := sink.client.TTL(s.ctx, latestKey(sn)).Result()
	s.Require().NoError(err)
	s.Greater(ttl, time.Duration(0))

	missing, err := sink.Latest(s.ctx, sn+"-missing")
	s.NoError(err)
	s.Nil(missing)
}

func (s *LiveSinksTestSuite) TestNATSPublish() {
	url := envOr("TEST_NATS_URL", nats.DefaultURL)
	sink, err := OpenNATSSink(url, "test.meters", nil)
	if err != nil {
		s.T().Skip("NATS not available, skipping integration tests")
	}
	defer sink.Close()

	sub, err := sink.conn.SubscribeSync("test.meters.>")
	s.Require().NoError(err)
	defer sub.Unsubscribe()

	s.Require().NoError(sink.Process(s.ctx, sampleMessage("N1")))

	got, err := sub.NextMsg(2 * time.Second)
	s.Require().NoError(err)
	s.Equal("test.meters.N1", got.Subject)

	var msg meter.Message
	s.Require().NoError(json.Unmarshal(got.Data, &msg))
	s.Equal("N1", msg.SN)
	s.Equal(sampleMessage("N1").Result.Data, msg.Result.Data)
}

func (s *LiveSinksTestSuite) TestPostgresInsert() {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		s.T().Skip("TEST_DATABASE_URL not set, skipping postgres integration tests")
	}
	sink, err := OpenPostgresSink(s.ctx, dsn, nil)
	if err != nil {
		s.T().Skipf("Postgres not available: %v", err)
	}
	defer sink.Close()

	sn := "it-" + time.Now().Format("150405.000000")
	s.Require().NoError(sink.Process(s.ctx, sampleMessage(sn)))

	var count int64
	s.Require().NoError(sink.db.WithContext(s.ctx).
		Table("meter_readings").Where("serial_number = ?", sn).Count(&count).Error)
	s.Equal(int64(1), count)
	sink.db.WithContext(s.ctx).Exec("DELETE FROM meter_readings WHERE serial_number = ?", sn)
}

func TestLiveSinksSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping live sink tests in short mode")
	}
	suite.Run(t, new(LiveSinksTestSuite))
}
