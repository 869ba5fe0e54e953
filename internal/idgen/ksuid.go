package idgen

import (
	"fmt"

	"github.com/segmentio/ksuid"
)

// KSUIDGenerator generates K-sortable KSUIDs.
type KSUIDGenerator struct{}

func NewKSUIDGenerator() *KSUIDGenerator {
	return &KSUIDGenerator{}
}

func (g *KSUIDGenerator) Generate() (string, error) {
	id, err := ksuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate KSUID: %w", err)
	}
	return id.String(), nil
}

func (g *KSUIDGenerator) Name() string { return "ksuid" }
