package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"trade-settlement-go/internal/models"

	"gopkg.in/yaml.v2"
)

type AdminsConfig struct {
	Admins []models.Admin `yaml:"admins"`
}

// LoadAdminRoster reads the admin roster YAML. Relative paths resolve against the
// working directory.
func LoadAdminRoster(adminsFile string) ([]models.Admin, error) {
	var adminsPath string
	if filepath.IsAbs(adminsFile) {
		adminsPath = adminsFile
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		adminsPath = filepath.Join(wd, adminsFile)
	}

	data, err := os.ReadFile(adminsPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", adminsFile, err)
	}

	var config AdminsConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", adminsFile, err)
	}

	seen := make(map[string]bool, len(config.Admins))
	for i := range config.Admins {
		admin := &config.Admins[i]
		admin.Id = strings.TrimSpace(admin.Id)
		admin.Region = strings.ToUpper(strings.TrimSpace(admin.Region))
		if admin.Id == "" {
			return nil, fmt.Errorf("admin at index %d missing id", i)
		}
		if seen[admin.Id] {
			return nil, fmt.Errorf("admin %q listed twice", admin.Id)
		}
		seen[admin.Id] = true
		if admin.Name == "" {
			admin.Name = admin.Id
		}
		if admin.Region == "" {
			admin.Region = models.RegionAll
		}
		if admin.Rating < 0 || admin.Rating > 5 {
			return nil, fmt.Errorf("admin %q rating %.2f outside 0..5", admin.Id, admin.Rating)
		}
	}

	return config.Admins, nil
}
