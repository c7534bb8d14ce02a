package httpapi

import (
	"net/http"

	"keypool/internal/utils"
)

const (
	notConfigured = "(not configured)"
	masked        = "******"
)

type saveConfigRequest struct {
	Configs map[string]string `json:"configs"`
}

type systemConfigResponse struct {
	Configs      map[string]string `json:"configs"`
	ReadonlyKeys []string          `json:"readonly_keys"`
	EnvConfigs   map[string]string `json:"env_configs"`
}

func (d *Dependencies) handleGetSystemConfig(w http.ResponseWriter, r *http.Request) {
	utils.RespondOK(w, "", systemConfigResponse{
		Configs:      d.ConfigStore.Values(),
		ReadonlyKeys: d.ConfigStore.ReadonlyKeys(),
		EnvConfigs:   d.envConfigs(),
	})
}

// envConfigs shows the process settings the console cannot change. Secrets are masked.
func (d *Dependencies) envConfigs() map[string]string {
	redisAddr := d.Config.Redis.Address
	if redisAddr == "" {
		redisAddr = notConfigured
	}
	return map[string]string{
		"HTTP_PORT":           d.Config.HTTPPort,
		"DB_DRIVER":           d.Config.Database.Driver,
		"REDIS_ADDRESS":       redisAddr,
		"TIMEZONE":            d.location().String(),
		"UPSTREAM_OPENAI_URL": d.Config.Health.UpstreamURL,
		"JWT_SECRET":          masked,
	}
}

func (d *Dependencies) handleSaveSystemConfig(w http.ResponseWriter, r *http.Request) {
	var req saveConfigRequest
	if err := decodeJSON(w, r, &req); err != nil {
		utils.RespondWithError(w, err)
		return
	}

	if _, err := d.ConfigStore.Save(r.Context(), req.Configs); err != nil {
		utils.RespondWithError(w, err)
		return
	}
	utils.RespondOK(w, "configuration saved", nil)
}

func (d *Dependencies) handleListUserAgents(w http.ResponseWriter, r *http.Request) {
	utils.RespondOK(w, "", nonNil(d.ConfigStore.Snapshot().UAList))
}

func (d *Dependencies) handleListProxies(w http.ResponseWriter, r *http.Request) {
	utils.RespondOK(w, "", nonNil(d.ConfigStore.Snapshot().ProxyList))
}
