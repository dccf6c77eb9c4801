package persona

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Persona 导览员的人设，只影响 prompt 文本
type Persona struct {
	Name             string   `json:"name"`
	Mall             string   `json:"mall"`
	Traits           string   `json:"traits"`
	ConciergeCounter string   `json:"concierge_counter"`
	Duties           []string `json:"duties"`
	MinShops         int      `json:"min_shops"`
	MaxShops         int      `json:"max_shops"`
}

// Default 未配置人设文件时使用
func Default() *Persona {
	return &Persona{
		Name:             "Sam",
		Mall:             "Sunway Pyramid Mall",
		Traits:           "elegant, personable and warm",
		ConciergeCounter: "the concierge counter",
		Duties: []string{
			"Help visitors navigate the mall and locate shops, restaurants, services and facilities.",
			"Recommend stores or services that match what the visitor is looking for.",
			"Offer suitable alternatives when a specific request is not found.",
			"Answer general visitor questions politely and conversationally.",
		},
		MinShops: 5,
		MaxShops: 10,
	}
}

func LoadFromFile(path string) (*Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read persona file: %w", err)
	}
	p := Default()
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("unmarshal persona: %w", err)
	}
	if p.MinShops <= 0 || p.MaxShops < p.MinShops {
		return nil, fmt.Errorf("invalid shop range %d-%d", p.MinShops, p.MaxShops)
	}
	return p, nil
}

// FormatDutiesForPrompt 将职责列表格式化为编号列表
func (p *Persona) FormatDutiesForPrompt() string {
	var b strings.Builder
	for i, d := range p.Duties {
		fmt.Fprintf(&b, "%d. %s\n", i+1, d)
	}
	fmt.Fprintf(&b, "%d. Direct visitors to %s when necessary. Never guess unknown store locations or promotions.\n",
		len(p.Duties)+1, p.ConciergeCounter)
	return b.String()
}
