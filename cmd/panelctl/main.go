// panelctl administers the panel's tenant registry.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"text/tabwriter"
	"time"

	"github.com/ashureev/shsh-panel/internal/domain"
	"github.com/ashureev/shsh-panel/internal/store"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const defaultDBPath = "./data/panel.db"

var usernamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_-]{0,31}$`)

// tenantFile is the YAML document read by import and written by export.
type tenantFile struct {
	Tenants []*domain.Tenant `yaml:"tenants"`
}

func main() {
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "panelctl",
		Short:         "Administer hosting panel tenants",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	rootCmd.PersistentFlags().String("db", dbPath, "SQLite database path")

	tenantCmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}
	tenantCmd.AddCommand(
		tenantAddCmd(),
		tenantListCmd(),
		tenantDeleteCmd(),
		tenantImportCmd(),
		tenantExportCmd(),
	)
	rootCmd.AddCommand(tenantCmd, auditCmd())
	return rootCmd
}

// withRepo opens the database named by --db for the duration of fn.
func withRepo(cmd *cobra.Command, fn func(ctx context.Context, repo store.Repository) error) error {
	path, err := cmd.Flags().GetString("db")
	if err != nil {
		return err
	}
	repo, err := store.NewSQLite(path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer repo.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	return fn(ctx, repo)
}

func validateTenant(t *domain.Tenant) error {
	if t.TenantID == "" {
		return fmt.Errorf("tenant id is required")
	}
	if !usernamePattern.MatchString(t.Username) {
		return fmt.Errorf("tenant %s: invalid username %q", t.TenantID, t.Username)
	}
	if t.QuotaMB < 0 && t.QuotaMB != domain.UnlimitedQuota {
		return fmt.Errorf("tenant %s: quota must be >= 0 or %d for unlimited", t.TenantID, domain.UnlimitedQuota)
	}
	return nil
}

func tenantAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <tenant-id>",
		Short: "Create or update a tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			username, _ := cmd.Flags().GetString("username")
			quotaMB, _ := cmd.Flags().GetInt64("quota-mb")
			tenant := &domain.Tenant{TenantID: args[0], Username: username, QuotaMB: quotaMB}
			if err := validateTenant(tenant); err != nil {
				return err
			}
			return withRepo(cmd, func(ctx context.Context, repo store.Repository) error {
				existing, err := repo.GetTenant(ctx, tenant.TenantID)
				if err != nil {
					return err
				}
				if existing != nil {
					tenant.CreatedAt = existing.CreatedAt
				}
				if err := repo.UpsertTenant(ctx, tenant); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "tenant %s saved (user %s, quota %s)\n", tenant.TenantID, tenant.Username, formatQuota(tenant.QuotaMB))
				return nil
			})
		},
	}
	cmd.Flags().String("username", "", "OS username owning the tenant's home directory")
	cmd.Flags().Int64("quota-mb", domain.UnlimitedQuota, "Storage quota in MB (-1 for unlimited)")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func tenantListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tenants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRepo(cmd, func(ctx context.Context, repo store.Repository) error {
				tenants, err := repo.ListTenants(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "TENANT\tUSERNAME\tQUOTA\tUPDATED")
				for _, t := range tenants {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.TenantID, t.Username, formatQuota(t.QuotaMB), t.UpdatedAt.UTC().Format(time.RFC3339))
				}
				return w.Flush()
			})
		},
	}
}

func tenantDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <tenant-id>",
		Short: "Delete a tenant and its command audit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd, func(ctx context.Context, repo store.Repository) error {
				tenant, err := repo.GetTenant(ctx, args[0])
				if err != nil {
					return err
				}
				if tenant == nil {
					return fmt.Errorf("tenant %s not found", args[0])
				}
				if err := repo.DeleteTenant(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "tenant %s deleted\n", args[0])
				return nil
			})
		},
	}
}

func tenantImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Create or update tenants from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var doc tenantFile
			if err := yaml.Unmarshal(data, &doc); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}
			for _, t := range doc.Tenants {
				if err := validateTenant(t); err != nil {
					return err
				}
			}
			return withRepo(cmd, func(ctx context.Context, repo store.Repository) error {
				for _, t := range doc.Tenants {
					if err := repo.UpsertTenant(ctx, t); err != nil {
						return err
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d tenants imported\n", len(doc.Tenants))
				return nil
			})
		},
	}
}

func tenantExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write all tenants as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			output, _ := cmd.Flags().GetString("output")
			return withRepo(cmd, func(ctx context.Context, repo store.Repository) error {
				tenants, err := repo.ListTenants(ctx)
				if err != nil {
					return err
				}
				var w io.Writer = cmd.OutOrStdout()
				if output != "" {
					f, err := os.Create(output)
					if err != nil {
						return err
					}
					defer f.Close()
					w = f
				}
				enc := yaml.NewEncoder(w)
				enc.SetIndent(2)
				if err := enc.Encode(tenantFile{Tenants: tenants}); err != nil {
					return fmt.Errorf("encode tenants: %w", err)
				}
				return enc.Close()
			})
		},
	}
	cmd.Flags().StringP("output", "o", "", "Write to file instead of stdout")
	return cmd
}

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit <tenant-id>",
		Short: "Show a tenant's recent terminal commands",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			return withRepo(cmd, func(ctx context.Context, repo store.Repository) error {
				entries, err := repo.ListCommands(ctx, args[0], limit)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "TIME\tSESSION\tVERDICT\tEXIT\tCOMMAND")
				for _, e := range entries {
					exit := fmt.Sprint(e.ExitCode)
					if e.TimedOut {
						exit += " (timeout)"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.CreatedAt.UTC().Format(time.RFC3339), e.SessionID, e.Verdict, exit, e.Command)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().Int("limit", 20, "Maximum number of entries")
	return cmd
}

func formatQuota(mb int64) string {
	if mb == domain.UnlimitedQuota {
		return "unlimited"
	}
	return fmt.Sprintf("%dMB", mb)
}
