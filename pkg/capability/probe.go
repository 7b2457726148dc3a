package capability

import (
	"runtime"
	"strings"

	"github.com/elastic/go-sysinfo"
	"github.com/jaypipes/ghw"
)

// sysinfoProber is the production prober: host.Info/Memory from
// github.com/elastic/go-sysinfo for CPU/RAM, PCI GPU enumeration from
// github.com/jaypipes/ghw for GPU vendor detection.
type sysinfoProber struct{}

func (sysinfoProber) probeCPU() (CPU, error) {
	host, err := sysinfo.Host()
	if err != nil {
		return CPU{Cores: runtime.NumCPU(), Arch: runtime.GOARCH}, err
	}
	info := host.Info()
	arch := info.Architecture
	if arch == "" {
		arch = runtime.GOARCH
	}
	return CPU{Cores: runtime.NumCPU(), Arch: arch}, nil
}

func (sysinfoProber) probeMemory() (Memory, error) {
	host, err := sysinfo.Host()
	if err != nil {
		return Memory{}, err
	}
	mem, err := host.Memory()
	if err != nil {
		return Memory{}, err
	}
	return Memory{Total: mem.Total, Available: mem.Available}, nil
}

// knownVendors maps PCI vendor IDs to the GPU types the flag-computation
// table in the diffusion server manager distinguishes.
var knownVendors = map[string]GPUType{
	"10de": GPUNVIDIA, // NVIDIA
	"1002": GPUAMD,    // AMD/ATI
}

func (sysinfoProber) probeGPU() (GPU, error) {
	info, err := ghw.GPU()
	if err != nil || info == nil || len(info.GraphicsCards) == 0 {
		if runtime.GOOS == "darwin" && runtime.GOARCH == "arm64" {
			return GPU{Available: true, Type: GPUMetal}, nil
		}
		return GPU{Type: GPUNone}, err
	}

	for _, card := range info.GraphicsCards {
		if card.DeviceInfo == nil || card.DeviceInfo.Vendor == nil {
			continue
		}
		vendorID := strings.ToLower(card.DeviceInfo.Vendor.ID)
		if t, ok := knownVendors[vendorID]; ok {
			// ghw's PCI enumeration does not report onboard VRAM size, so
			// VRAM is reported unknown (0) here; the diffusion server
			// manager's flag table treats VRAM-unknown conservatively.
			return GPU{Available: true, Type: t}, nil
		}
	}

	if runtime.GOOS == "darwin" && runtime.GOARCH == "arm64" {
		return GPU{Available: true, Type: GPUMetal}, nil
	}

	return GPU{Type: GPUOther}, nil
}
