package config

import "testing"

func validServer() Server {
	return Server{
		Port:         DefaultServerPort,
		DPBits:       DefaultDPBits,
		BucketBits:   DefaultBucketBits,
		ShardBits:    DefaultShardBits,
		IntervalBits: 40,
	}
}

func TestValidServerConfigPasses(t *testing.T) {
	if err := validServer().Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestServerRejectsBadPort(t *testing.T) {
	c := validServer()
	c.Port = 0
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for port 0")
	}
}

func TestServerRejectsShardBitsAboveBucketBits(t *testing.T) {
	c := validServer()
	c.ShardBits = c.BucketBits + 1
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error when shardBits > bucketBits")
	}
}

func TestServerRejectsZeroIntervalBits(t *testing.T) {
	c := validServer()
	c.IntervalBits = 0
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for zero interval bits")
	}
}

func validClient() Client {
	return Client{ServerAddr: "localhost:17337", CPULanes: 4}
}

func TestValidClientConfigPasses(t *testing.T) {
	if err := validClient().Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestClientRequiresServerAddr(t *testing.T) {
	c := validClient()
	c.ServerAddr = ""
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for empty server address")
	}
}

func TestClientRequiresAtLeastOneLaneWithoutGPU(t *testing.T) {
	c := validClient()
	c.CPULanes = 0
	c.UseGPU = false
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error when no CPU lanes and no GPU")
	}
}

func TestClientAllowsZeroCPULanesWithGPU(t *testing.T) {
	c := validClient()
	c.CPULanes = 0
	c.UseGPU = true
	c.GPUID = 0
	if err := c.Validate(); err != nil {
		t.Fatalf("expected valid config with GPU-only lanes, got %v", err)
	}
}
