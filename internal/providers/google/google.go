// Package google is the google specific extension.
//
// Every Google API product shares the same authorization and token endpoints
// and only differs by the scope it requests.
package google

import (
	"strings"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	analytics "google.golang.org/api/analytics/v3"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/searchconsole/v1"
	sheets "google.golang.org/api/sheets/v4"
	"google.golang.org/api/youtubeanalytics/v2"
)

// The Google Ads API has no generated client in google.golang.org/api.
const adwordsScope = "https://www.googleapis.com/auth/adwords"

// Product is one Google API product sharing the Google authorization mechanics.
type Product struct {
	name  string
	scope string
}

var (
	// YouTubeAnalytics reads YouTube Analytics reports, including revenue metrics.
	YouTubeAnalytics = newProduct("youtube-analytics",
		youtubeanalytics.YtAnalyticsReadonlyScope,
		youtubeanalytics.YtAnalyticsMonetaryReadonlyScope)

	// Drive reads files from Google Drive.
	Drive = newProduct("google-drive", drive.DriveReadonlyScope)

	// Sheets reads spreadsheets, and needs Drive to list them.
	Sheets = newProduct("google-sheets", sheets.SpreadsheetsReadonlyScope, drive.DriveReadonlyScope)

	// Analytics reads Google Analytics views.
	Analytics = newProduct("google-analytics", analytics.AnalyticsReadonlyScope)

	// SearchConsole reads Search Console properties.
	SearchConsole = newProduct("google-search-console", searchconsole.WebmastersReadonlyScope)

	// Ads reads Google Ads accounts.
	Ads = newProduct("google-ads", adwordsScope)
)

func newProduct(name string, scopes ...string) Product {
	return Product{name: name, scope: strings.Join(scopes, " ")}
}

// Products returns all the Google products supported.
func Products() []Product {
	return []Product{YouTubeAnalytics, Drive, Sheets, Analytics, SearchConsole, Ads}
}

// Name returns the provider name used by clients of the daemon.
func (p Product) Name() string {
	return p.name
}

// Scope returns the scope requested for this product.
func (p Product) Scope() string {
	return p.scope
}

// Endpoint returns the Google OAuth 2.0 endpoints.
func (Product) Endpoint() oauth2.Endpoint {
	return googleoauth.Endpoint
}

// AuthOptions returns the parameters Google needs to issue a refresh token on every consent.
// include_granted_scopes lets a later consent for another product add to the grants of the same
// client instead of replacing them.
func (Product) AuthOptions() []oauth2.AuthCodeOption {
	return []oauth2.AuthCodeOption{
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
		oauth2.ApprovalForce,
	}
}

// RequiresRefreshToken is true: a Google credential is useless for background syncs without one.
func (Product) RequiresRefreshToken() bool {
	return true
}
