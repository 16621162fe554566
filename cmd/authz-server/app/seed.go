package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/openmedgrid/authz-server/internal/config"
	"github.com/openmedgrid/authz-server/internal/model"
	"github.com/openmedgrid/authz-server/internal/service"
	"github.com/openmedgrid/authz-server/pkg/logger"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Provision baseline connections, applications, and roles",
	Long: `Provision the baseline entities declared in the configuration file.

Seeding is idempotent: entities are matched by name or connection id and
updated in place. A configuration without a seed section aborts, because a
server without its baseline entities cannot authorize anyone.`,
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")
	if err := viper.BindPFlag("config", seedCmd.Flags().Lookup("config")); err != nil {
		logger.Fatalf("Failed to bind config flag: %v", err)
	}
	if err := seedCmd.MarkFlagRequired("config"); err != nil {
		logger.Fatalf("Failed to mark config flag as required: %v", err)
	}
}

func runSeed(_ *cobra.Command, _ []string) error {
	ctx := context.Background()

	cfg, err := config.NewConfig(config.WithConfigPath(viper.GetString("config")))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Seed == nil && len(cfg.Connections) == 0 {
		return errors.New("configuration has no seed section and no connections, nothing to provision")
	}

	repos, _, closeStore, err := buildRepositories(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := seedEntities(ctx, repos, cfg); err != nil {
		return err
	}

	logger.Info("Seeding complete")
	return nil
}

func seedEntities(ctx context.Context, repos service.Repositories, cfg *config.Config) error {
	for _, cc := range cfg.Connections {
		conn, err := repos.FindConnectionByLabel(ctx, cc.Label)
		if errors.Is(err, service.ErrNotFound) {
			conn = &model.Connection{UUID: uuid.New()}
		} else if err != nil {
			return fmt.Errorf("failed to look up connection %q: %w", cc.Label, err)
		}
		conn.Label = cc.Label
		conn.ID = cc.ID
		conn.Subprefix = cc.Subprefix
		conn.Strict = cc.Strict
		if err := repos.SaveConnection(ctx, conn); err != nil {
			return fmt.Errorf("failed to seed connection %q: %w", cc.Label, err)
		}
		logger.Infof("Seeded connection %q (%s)", cc.Label, cc.ID)
	}

	if cfg.Seed == nil {
		return nil
	}

	for _, sa := range cfg.Seed.Applications {
		app, err := repos.FindApplicationByName(ctx, sa.Name)
		if errors.Is(err, service.ErrNotFound) {
			app = &model.Application{UUID: uuid.New(), Enabled: true}
		} else if err != nil {
			return fmt.Errorf("failed to look up application %q: %w", sa.Name, err)
		}
		app.Name = sa.Name
		app.Description = sa.Description
		app.URL = sa.URL
		if err := repos.SaveApplication(ctx, app); err != nil {
			return fmt.Errorf("failed to seed application %q: %w", sa.Name, err)
		}
		logger.Infof("Seeded application %q", sa.Name)
	}

	for _, sr := range cfg.Seed.Roles {
		var privileges []*model.Privilege
		for _, name := range sr.Privileges {
			privilege, err := repos.FindPrivilegeByName(ctx, name)
			if errors.Is(err, service.ErrNotFound) {
				privilege = &model.Privilege{UUID: uuid.New(), Name: name}
				if err := repos.SavePrivilege(ctx, privilege); err != nil {
					return fmt.Errorf("failed to seed privilege %q: %w", name, err)
				}
				logger.Infof("Seeded privilege %q", name)
			} else if err != nil {
				return fmt.Errorf("failed to look up privilege %q: %w", name, err)
			}
			privileges = append(privileges, privilege)
		}

		role, err := repos.FindRoleByName(ctx, sr.Name)
		if errors.Is(err, service.ErrNotFound) {
			role = &model.Role{UUID: uuid.New()}
		} else if err != nil {
			return fmt.Errorf("failed to look up role %q: %w", sr.Name, err)
		}
		role.Name = sr.Name
		role.Privileges = privileges
		if err := repos.SaveRole(ctx, role); err != nil {
			return fmt.Errorf("failed to seed role %q: %w", sr.Name, err)
		}
		logger.Infof("Seeded role %q with %d privileges", sr.Name, len(privileges))
	}

	return nil
}
