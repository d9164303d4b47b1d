package docker

// Config holds the configuration for a container-backed interpreter.
type Config struct {
	// Image is the Docker image to run the interpreter in. Plots need an
	// image with matplotlib installed.
	Image string
	// Python is the interpreter binary inside the image.
	Python string
	// Pull fetches the image before the first launch.
	Pull bool
	// MemoryLimit is the maximum amount of memory the container can use (in bytes). Zero means unlimited.
	MemoryLimit int64
	// CPULimit is the number of CPUs the container can use. Zero means unlimited.
	CPULimit float64
	// NetworkMode is passed through to Docker ("bridge", "none", ...).
	NetworkMode string
	// User runs the interpreter as this user when set.
	User string
	// WorkingDir is the interpreter's working directory inside the container.
	WorkingDir string
	// Env is added to the driver's environment.
	Env []string
}

// DefaultConfig provides defaults for a Python interpreter container.
func DefaultConfig() Config {
	return Config{
		Image:  "python:3.12-slim",
		Python: "python",
		Pull:   true,
		// 512 MB memory limit
		MemoryLimit: 512 * 1024 * 1024,
		// one full CPU
		CPULimit:    1,
		NetworkMode: "bridge",
		WorkingDir:  "/tmp",
	}
}
