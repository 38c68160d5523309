package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/basecamp/daemon-console/internal/output"
	"github.com/basecamp/daemon-console/internal/token"
)

// TokenInfo describes an acquired token without exposing it.
type TokenInfo struct {
	Scopes    []string  `json:"scopes"`
	ExpiresOn time.Time `json:"expires_on"`
	FromCache bool      `json:"from_cache"`
	Audience  []string  `json:"audience,omitempty"`
	Issuer    string    `json:"issuer,omitempty"`
	AppID     string    `json:"app_id,omitempty"`
	TenantID  string    `json:"tenant_id,omitempty"`
	Roles     []string  `json:"roles,omitempty"`
}

// NewTokenCmd creates the token command.
func NewTokenCmd() *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Acquire an access token and describe it",
		Long: `Acquire an access token for <api_base_url>.default and print its expiry,
audience and application roles. The signature is not verified; the token is
decoded only for display.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}
			if err := app.Config.Validate(); err != nil {
				return err
			}

			provider, err := app.TokenProvider()
			if err != nil {
				return err
			}
			scopes := token.Scopes(app.Config.APIBaseURL)
			res, err := provider.AcquireToken(cmd.Context(), scopes)
			if err != nil {
				return err
			}

			if raw {
				_, err := fmt.Fprintln(app.Stdout(), res.AccessToken)
				return err
			}

			info := DescribeToken(res, scopes)
			if app.Console.Format() == output.FormatJSON {
				return app.Console.Data(info)
			}
			app.Console.Table(info.rows())
			return nil
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "Print only the access token")
	return cmd
}

// DescribeToken decodes the claims of res. Tokens that are not JWTs are
// described by expiry alone.
func DescribeToken(res *token.Result, scopes []string) TokenInfo {
	info := TokenInfo{Scopes: scopes, ExpiresOn: res.ExpiresOn, FromCache: res.FromCache}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(res.AccessToken, claims); err != nil {
		return info
	}

	if aud, err := claims.GetAudience(); err == nil {
		info.Audience = aud
	}
	if iss, err := claims.GetIssuer(); err == nil {
		info.Issuer = iss
	}
	info.AppID = stringClaim(claims, "appid")
	if info.AppID == "" {
		info.AppID = stringClaim(claims, "azp")
	}
	info.TenantID = stringClaim(claims, "tid")
	if roles, ok := claims["roles"].([]any); ok {
		for _, r := range roles {
			if s, ok := r.(string); ok {
				info.Roles = append(info.Roles, s)
			}
		}
	}
	return info
}

func stringClaim(claims jwt.MapClaims, name string) string {
	s, _ := claims[name].(string)
	return s
}

func (i TokenInfo) rows() [][2]string {
	rows := [][2]string{
		{"scopes", strings.Join(i.Scopes, " ")},
		{"expires_on", i.ExpiresOn.Local().Format(time.RFC1123)},
		{"from_cache", fmt.Sprintf("%t", i.FromCache)},
	}
	if len(i.Audience) > 0 {
		rows = append(rows, [2]string{"audience", strings.Join(i.Audience, " ")})
	}
	if i.Issuer != "" {
		rows = append(rows, [2]string{"issuer", i.Issuer})
	}
	if i.AppID != "" {
		rows = append(rows, [2]string{"app_id", i.AppID})
	}
	if i.TenantID != "" {
		rows = append(rows, [2]string{"tenant_id", i.TenantID})
	}
	if len(i.Roles) > 0 {
		rows = append(rows, [2]string{"roles", strings.Join(i.Roles, ", ")})
	}
	return rows
}
