package memory

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/infra-api/internal/inventory"
)

// Seed is the YAML document used to populate an in-memory inventory.
type Seed struct {
	Providers      []inventory.Provider      `yaml:"providers"`
	VMs            []inventory.VM            `yaml:"vms"`
	NetworkRouters []inventory.NetworkRouter `yaml:"network_routers"`
	Users          []inventory.User          `yaml:"users"`
	Servers        []inventory.Server        `yaml:"servers"`
}

// ParseSeed decodes a seed document.
func ParseSeed(data []byte) (Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return Seed{}, fmt.Errorf("decode inventory seed: %w", err)
	}
	ids := make(map[int64]string)
	check := func(kind string, id int64) error {
		if id <= 0 {
			return fmt.Errorf("inventory seed: %s requires a positive id", kind)
		}
		if prev, ok := ids[id]; ok {
			return fmt.Errorf("inventory seed: id %d used by both %s and %s", id, prev, kind)
		}
		ids[id] = kind
		return nil
	}
	for _, p := range seed.Providers {
		if err := check("provider", p.ID); err != nil {
			return Seed{}, err
		}
	}
	for _, vm := range seed.VMs {
		if err := check("vm", vm.ID); err != nil {
			return Seed{}, err
		}
	}
	for _, r := range seed.NetworkRouters {
		if err := check("network router", r.ID); err != nil {
			return Seed{}, err
		}
	}
	return seed, nil
}

// LoadSeedFile reads and decodes a seed file from disk.
func LoadSeedFile(path string) (Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("read inventory seed: %w", err)
	}
	return ParseSeed(data)
}
