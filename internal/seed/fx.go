package seed

import (
	"github.com/apexhq/apex/internal/config"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("seed",
	fx.Invoke(func(cfg config.Config, conn *gorm.DB, node *snowflake.Node) error {
		if !cfg.SeedDefaultOrg {
			return nil
		}
		return EnsureDefaultOrg(conn, node, cfg)
	}),
)
