package migrate

import (
	"fmt"
	"strings"

	"github.com/vk/treepump/internal/model"
)

const (
	orgPrefix   = "org_"
	usrPrefix   = "usr_"
	vaultPrefix = "vault-"

	attrActionLog   = "org_action_log"
	attrLock        = "org_lock"
	attrStatus      = "org_status"
	attrVaultStatus = "org_vault_status"

	StatusSecured = "SECURED"

	VaultPublished   = "PUBLISHED"
	VaultDepublished = "DEPUBLISHED"
)

// vaultKeep lists the org_ attributes a vault collection keeps besides org_publication*.
var vaultKeep = map[string]bool{
	attrActionLog:                true,
	"org_license_uri":            true,
	"org_data_package_reference": true,
	attrVaultStatus:              true,
}

// IsVault reports whether p lies in a vault group, i.e. /zone/home/vault-*.
func IsVault(p string) bool {
	parts := strings.Split(p, "/")
	return len(parts) > 3 && strings.HasPrefix(parts[3], vaultPrefix)
}

// CheckMovable rejects a source collection that is locked or whose status
// is set to anything but SECURED.
func CheckMovable(avus []model.AVU) error {
	for _, avu := range avus {
		switch {
		case avu.Attribute == attrLock:
			return fmt.Errorf("collection is locked (%s=%s)", attrLock, avu.Value)
		case avu.Attribute == attrStatus && avu.Value != "" && avu.Value != StatusSecured:
			return fmt.Errorf("collection status is %s, want %s or none", avu.Value, StatusSecured)
		}
	}
	return nil
}

// CollectionMetadata selects the metadata of a collection that is carried over.
func CollectionMetadata(path string, avus []model.AVU) []model.AVU {
	if IsVault(path) {
		return filter(avus, func(name string) bool {
			switch {
			case strings.HasPrefix(name, "org_publication"), vaultKeep[name]:
				return true
			case strings.HasPrefix(name, orgPrefix), strings.HasPrefix(name, usrPrefix):
				return false
			}
			return true
		})
	}
	// org_status is left behind on purpose: the destination starts pristine.
	return filter(avus, func(name string) bool {
		return !strings.HasPrefix(name, orgPrefix) || name == attrActionLog
	})
}

// ItemMetadata selects the metadata of a data item that is carried over.
// Vault items carry none.
func ItemMetadata(path string, avus []model.AVU) []model.AVU {
	if IsVault(path) {
		return nil
	}
	return filter(avus, func(name string) bool {
		return !strings.HasPrefix(name, orgPrefix)
	})
}

// replaces reports whether an attribute must hold a single value.
func replaces(attribute string) bool {
	return attribute == attrStatus || attribute == attrVaultStatus
}

func filter(avus []model.AVU, keep func(string) bool) []model.AVU {
	var out []model.AVU
	for _, avu := range avus {
		if keep(avu.Attribute) {
			out = append(out, avu)
		}
	}
	return out
}
