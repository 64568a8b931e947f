package banner

import (
	"fmt"

	"mirrordb/pkg/config"
)

const banner = `
███╗   ███╗██╗██████╗ ██████╗  ██████╗ ██████╗     ██████╗ ██████╗
████╗ ████║██║██╔══██╗██╔══██╗██╔═══██╗██╔══██╗    ██╔══██╗██╔══██╗
██╔████╔██║██║██████╔╝██████╔╝██║   ██║██████╔╝    ██║  ██║██████╔╝
██║╚██╔╝██║██║██╔══██╗██╔══██╗██║   ██║██╔══██╗    ██║  ██║██╔══██╗
██║ ╚═╝ ██║██║██║  ██║██║  ██║╚██████╔╝██║  ██║    ██████╔╝██████╔╝
╚═╝     ╚═╝╚═╝╚═╝  ╚═╝╚═╝  ╚═╝ ╚═════╝ ╚═╝  ╚═╝    ╚═════╝ ╚═════╝
`

// Print writes the startup summary for operators.
func Print(cfg *config.Config, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("HTTP:     %s\n", cfg.Addr())
	fmt.Printf("TCP:      %s\n", cfg.Readers.TCPAddr)
	fmt.Printf("Backend:  %s\n", cfg.Storage.Backend)
	fmt.Printf("Data:     %s\n", cfg.Storage.DataPath)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}

	fmt.Println("\n== Examples ===================================================")
	fmt.Printf("curl -X POST 'http://localhost%s/api/Tables/CreateIfNotExists?tableName=orders&persist=1'\n", cfg.Addr())
	fmt.Printf("curl -X POST 'http://localhost%s/api/Row?tableName=orders' -d '{\"PartitionKey\":\"p1\",\"RowKey\":\"r1\"}'\n", cfg.Addr())
	fmt.Printf("curl 'http://localhost%s/api/Row?tableName=orders&partitionKey=p1'\n", cfg.Addr())

	fmt.Println("\n== Production? =================================================")
	if be := len(cfg.Security.APIKeys.Backend); be > 0 {
		fmt.Printf("- Backend API keys: OK (%d)\n", be)
	} else {
		fmt.Println("- Backend API keys: MISSING (server runs in open mode)")
	}
	if ak := len(cfg.Security.APIKeys.Admin); ak > 0 {
		fmt.Printf("- Admin API keys: OK (%d)\n", ak)
	} else {
		fmt.Println("- Admin API keys: MISSING (table deletion open to all callers)")
	}
	if cfg.Server.TLS.CertFile != "" && cfg.Server.TLS.KeyFile != "" {
		fmt.Println("- TLS: configured")
	} else {
		fmt.Println("- TLS: unconfigured")
	}
	if cfg.Backup.Enabled {
		cron := cfg.Backup.Cron
		if cron == "" {
			cron = "0 2 * * *"
		}
		fmt.Printf("- Backups: enabled (cron=%s)\n", cron)
	} else {
		fmt.Println("- Backups: disabled")
	}

	fmt.Println("\n== Logs: =================================================")
}
