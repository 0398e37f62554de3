package banner

import (
	"fmt"

	"converse/pkg/config"
)

const banner = `
 ██████╗ ██████╗ ███╗   ██╗██╗   ██╗███████╗██████╗ ███████╗███████╗
██╔════╝██╔═══██╗████╗  ██║██║   ██║██╔════╝██╔══██╗██╔════╝██╔════╝
██║     ██║   ██║██╔██╗ ██║██║   ██║█████╗  ██████╔╝███████╗█████╗
██║     ██║   ██║██║╚██╗██║╚██╗ ██╔╝██╔══╝  ██╔══██╗╚════██║██╔══╝
╚██████╗╚██████╔╝██║ ╚████║ ╚████╔╝ ███████╗██║  ██║███████║███████╗
 ╚═════╝ ╚═════╝ ╚═╝  ╚═══╝  ╚═══╝  ╚══════╝╚═╝  ╚═╝╚══════╝╚══════╝
`

// PrintWithEff prints the startup banner with the effective runtime
// configuration.
func PrintWithEff(eff config.EffectiveConfigResult, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", eff.Addr)
	fmt.Printf("DB Path:  %s\n", eff.DBPath)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	fmt.Printf("Config:   %s\n", eff.Source)
	if eff.Config != nil {
		fmt.Printf("Typing idle window: %s\n", eff.Config.Presence.IdleWindow.Std())
		if eff.Config.Resync.Enabled {
			fmt.Printf("Periodic resync:    %s\n", eff.Config.Resync.Cron)
		} else {
			fmt.Println("Periodic resync:    disabled")
		}
	}
	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("POST   /v1/conversations/{key}/messages      - send a message")
	fmt.Println("GET    /v1/conversations/{key}/messages      - list history (cursor, limit)")
	fmt.Println("PATCH  /v1/conversations/{key}/messages/{id} - edit (sender only)")
	fmt.Println("DELETE /v1/conversations/{key}/messages/{id} - soft delete (sender only)")
	fmt.Println("GET    /v1/conversations/{key}/messages/{id}/versions - revision trail")
	fmt.Println("POST   /v1/conversations/{key}/seen          - advance read boundary")
	fmt.Println("GET    /v1/inbox                             - recency-ordered summary")
	fmt.Println("\n== Examples ===================================================")
	fmt.Printf("curl -H 'X-User-ID: alice' -X POST 'http://localhost%s/v1/conversations/dm:alice:bob/messages' -d '{\"body\":\"hello\"}'\n", eff.Addr)
	fmt.Printf("curl -H 'X-User-ID: alice' 'http://localhost%s/v1/conversations/dm:alice:bob/messages?limit=50'\n", eff.Addr)
	fmt.Println()
}
