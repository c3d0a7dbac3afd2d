package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type client struct {
	BaseURL   string
	OutFormat string // "json" | "text"
	HTTP      *http.Client
}

func (c *client) do(method, path string, body []byte) (int, []byte, error) {
	url := strings.TrimRight(c.BaseURL, "/") + path
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, b, nil
}

func (c *client) print(status int, body []byte) {
	if c.OutFormat == "json" {
		var v any
		if json.Unmarshal(body, &v) == nil {
			p, _ := json.MarshalIndent(v, "", "  ")
			fmt.Println(string(p))
			return
		}
	}
	if len(body) > 0 {
		fmt.Println(string(body))
	} else {
		fmt.Printf("status=%d\n", status)
	}
}

func main() {
	var (
		baseURL = envOr("DOORMAN_URL", "http://localhost:8080")
		out     = envOr("DOORMAN_OUT", "text")
		timeout = 30 * time.Second
	)

	root := &cobra.Command{
		Use:   "doorman",
		Short: "CLI del portal de administración de directorio",
	}

	root.PersistentFlags().StringVar(&baseURL, "url", baseURL, "URL base del servicio (env DOORMAN_URL)")
	root.PersistentFlags().StringVar(&out, "out", out, "Formato de salida: json|text")

	cl := &client{BaseURL: baseURL, OutFormat: out, HTTP: &http.Client{Timeout: timeout}}

	// status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Estado y modo de autenticación actual",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, body, err := cl.do("GET", "/v1/auth/session", nil)
			if err != nil {
				return err
			}
			cl.print(status, body)
			return nil
		},
	}

	// configure
	var cfgTenant, cfgApp, cfgSecret string
	configureCmd := &cobra.Command{
		Use:   "configure",
		Short: "Guardar la credencial tenant/aplicación",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfgTenant == "" || cfgApp == "" {
				return fmt.Errorf("--tenant y --app son requeridos")
			}
			payload := map[string]string{
				"tenantId":      cfgTenant,
				"applicationId": cfgApp,
			}
			if cfgSecret != "" {
				payload["sharedSecret"] = cfgSecret
			}
			b, _ := json.Marshal(payload)
			status, body, err := cl.do("POST", "/v1/auth/configure", b)
			if err != nil {
				return err
			}
			if status/100 != 2 {
				return fmt.Errorf("configure falló: status=%d body=%s", status, string(body))
			}
			cl.print(status, body)
			return nil
		},
	}
	configureCmd.Flags().StringVar(&cfgTenant, "tenant", "", "Tenant ID")
	configureCmd.Flags().StringVar(&cfgApp, "app", "", "Application ID")
	configureCmd.Flags().StringVar(&cfgSecret, "secret", "", "Shared secret (opcional; selecciona ServicePrincipal)")

	// login
	var loginMode string
	loginCmd := &cobra.Command{
		Use:   "login",
		Short: "Autenticar en el modo dado (imprime redirect URL si es federado)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if loginMode == "" {
				return fmt.Errorf("--mode es requerido (Federated|ServicePrincipal|Brokered|Demo)")
			}
			b, _ := json.Marshal(map[string]string{"mode": loginMode})
			status, body, err := cl.do("POST", "/v1/auth/login", b)
			if err != nil {
				return err
			}
			if status/100 != 2 {
				return fmt.Errorf("login falló: status=%d body=%s", status, string(body))
			}
			cl.print(status, body)
			return nil
		},
	}
	loginCmd.Flags().StringVar(&loginMode, "mode", "", "Modo de autenticación")

	// logout
	logoutCmd := &cobra.Command{
		Use:   "logout",
		Short: "Cerrar la sesión activa (la credencial queda)",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, body, err := cl.do("POST", "/v1/auth/logout", []byte(`{}`))
			if err != nil {
				return err
			}
			if status/100 != 2 {
				return fmt.Errorf("logout falló: status=%d body=%s", status, string(body))
			}
			fmt.Println("ok")
			return nil
		},
	}

	// demo on|off
	demoCmd := &cobra.Command{
		Use:   "demo [on|off]",
		Short: "Prender o apagar el modo demo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var enabled bool
			switch args[0] {
			case "on":
				enabled = true
			case "off":
				enabled = false
			default:
				return fmt.Errorf("argumento inválido: %q (on|off)", args[0])
			}
			b, _ := json.Marshal(map[string]bool{"enabled": enabled})
			status, body, err := cl.do("POST", "/v1/auth/demo", b)
			if err != nil {
				return err
			}
			if status/100 != 2 {
				return fmt.Errorf("demo falló: status=%d body=%s", status, string(body))
			}
			cl.print(status, body)
			return nil
		},
	}

	// users list / groups list / devices list
	usersCmd := &cobra.Command{Use: "users", Short: "Usuarios del directorio"}
	usersCmd.AddCommand(listCmd(cl, "/v1/directory/users"))
	groupsCmd := &cobra.Command{Use: "groups", Short: "Grupos del directorio"}
	groupsCmd.AddCommand(listCmd(cl, "/v1/directory/groups"))
	devicesCmd := &cobra.Command{Use: "devices", Short: "Dispositivos del directorio"}
	devicesCmd.AddCommand(listCmd(cl, "/v1/directory/devices"))

	root.AddCommand(statusCmd, configureCmd, loginCmd, logoutCmd, demoCmd, usersCmd, groupsCmd, devicesCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func listCmd(cl *client, path string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Listar",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, body, err := cl.do("GET", path, nil)
			if err != nil {
				return err
			}
			if status/100 != 2 {
				return fmt.Errorf("list falló: status=%d body=%s", status, string(body))
			}
			cl.print(status, body)
			return nil
		},
	}
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
