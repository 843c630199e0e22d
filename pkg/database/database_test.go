package database

import (
	"statefuzz/config"
	"testing"
)

func TestRedisClientSelection(t *testing.T) {
	c, err := redisClient(config.BackendConfig{})
	if c != nil || err != nil {
		t.Fatalf("no backend should give no client, got %v, %v", c, err)
	}

	c, err = redisClient(config.BackendConfig{RedisUrl: "redis://:pw@cache:6380/2"})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if opts := c.Options(); opts.Addr != "cache:6380" || opts.DB != 2 || opts.Password != "pw" {
		t.Errorf("options = %+v", opts)
	}

	if _, err := redisClient(config.BackendConfig{RedisUrl: "http://nope"}); err == nil {
		t.Errorf("invalid url accepted")
	}
}

func TestSplitHosts(t *testing.T) {
	got := splitHosts(" s1:26379, ,s2:26379 ")
	if len(got) != 2 || got[0] != "s1:26379" || got[1] != "s2:26379" {
		t.Errorf("hosts = %q", got)
	}
}

func TestMetricRoundTrip(t *testing.T) {
	v, err := Metric{"new_bits": 3}.Value()
	if err != nil {
		t.Fatal(err)
	}
	var m Metric
	if err := m.Scan(v); err != nil {
		t.Fatal(err)
	}
	if m["new_bits"] != float64(3) {
		t.Errorf("metric = %v", m)
	}
	if err := m.Scan("text"); err == nil {
		t.Errorf("non-bytes value accepted")
	}
}
