package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"nhathuocpos/backend/internal/domain"
)

// Store persists the singleton shop profile as a JSON document next to the
// process. Saves overwrite the file wholesale; there is no merge.
type Store struct {
	mu   sync.Mutex
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// Default is used when no profile file exists yet.
func Default() domain.ShopProfile {
	return domain.ShopProfile{
		Name:    "Nha Thuoc POS",
		Phone:   "",
		Address: "",
	}
}

func (s *Store) Load() (domain.ShopProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return domain.ShopProfile{}, fmt.Errorf("read shop profile: %w", err)
	}

	var p domain.ShopProfile
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.ShopProfile{}, fmt.Errorf("parse shop profile: %w", err)
	}
	if strings.TrimSpace(p.Name) == "" {
		p.Name = Default().Name
	}
	return p, nil
}

func (s *Store) Save(p domain.ShopProfile) error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("shop name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write shop profile: %w", err)
	}
	return nil
}
