package scheduler

import (
	"github.com/yourusername/file-forge/internal/config"
	"github.com/yourusername/file-forge/internal/identity"
)

// Limits はロールごとの利用上限です。ゼロ値は無制限を意味します。
type Limits struct {
	MaxActiveJobs   int
	MaxStorageBytes int64
}

// LimitsFor はロールに対応する上限を返します。
// admin はどちらの上限も持ちません。
func LimitsFor(cfg *config.Config, role identity.Role) Limits {
	switch role {
	case identity.RoleGuest:
		return Limits{
			MaxActiveJobs:   cfg.GuestMaxActiveJobs,
			MaxStorageBytes: cfg.GuestMaxStorageBytes,
		}
	case identity.RolePremium:
		return Limits{
			MaxActiveJobs:   cfg.PremiumMaxActiveJobs,
			MaxStorageBytes: cfg.PremiumMaxStorageBytes,
		}
	case identity.RoleAdmin:
		return Limits{}
	default:
		return Limits{
			MaxActiveJobs:   cfg.UserMaxActiveJobs,
			MaxStorageBytes: cfg.UserMaxStorageBytes,
		}
	}
}
