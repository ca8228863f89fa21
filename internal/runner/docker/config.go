package docker

// Config holds the configuration for container-backed execution.
type Config struct {
	// Image must carry every toolchain the pipelines invoke
	// (python3, node, javac/java, g++). See deploy/toolchains.Dockerfile.
	Image string
	// MemoryLimit is the maximum amount of memory a container can use (in bytes).
	MemoryLimit int64
	// CPULimit is the number of CPUs a container can use.
	CPULimit float64
	// PoolSize is the number of pre-warmed containers to maintain.
	PoolSize int
	// WorkspaceRoot is bind-mounted at the same path inside every container,
	// so workspace paths mean the same thing on both sides.
	WorkspaceRoot string
	// User runs each exec; it must be able to write the workspace directories.
	User string
	// MaxOutput caps captured bytes per exec (0 means unlimited).
	MaxOutput int
	// SkipPull uses a locally built image without contacting a registry.
	SkipPull bool
}

// DefaultConfig provides sensible defaults for a polyglot sandbox.
func DefaultConfig() Config {
	return Config{
		Image: "code-runner-toolchains:latest",
		// 256 MB memory limit; javac needs more than the python sandbox did
		MemoryLimit: 256 * 1024 * 1024,
		// 1 CPU
		CPULimit: 1.0,
		PoolSize: 3,
		User:     "nobody",
		SkipPull: true,
	}
}
