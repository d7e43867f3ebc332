package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"yt-transcripts/internal/config"
	"yt-transcripts/internal/runstore"
	"yt-transcripts/internal/ytdlp"
)

type DoctorResult struct {
	OK         bool          `json:"ok"`
	ConfigPath string        `json:"config_path"`
	Checks     []DoctorCheck `json:"checks"`
}

// DoctorCheck is one preflight result. Optional checks never fail the run.
type DoctorCheck struct {
	Name     string `json:"name"`
	OK       bool   `json:"ok"`
	Optional bool   `json:"optional,omitempty"`
	Message  string `json:"message"`
}

func newDoctorCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run dependency, credential and filesystem preflight checks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cc.ensureConfig()
			if err != nil {
				return err
			}
			res := Doctor(cfg)
			res.ConfigPath = cc.configPath
			if cc.jsonFlag {
				if err := printJSON(cc.stdout, res); err != nil {
					return err
				}
			} else {
				printDoctor(cc, res)
			}
			if !res.OK {
				return fmt.Errorf("doctor found problems")
			}
			return nil
		},
	}
}

func Doctor(cfg *config.Config) DoctorResult {
	checks := make([]DoctorCheck, 0, 6)

	dep := ytdlp.DependencyStatus(cfg.Captions.Binary)
	checks = append(checks, DoctorCheck{
		Name:    "dependency:yt-dlp",
		OK:      dep.YTDLPFound,
		Message: dependencyMessage(dep.YTDLPFound, dep.YTDLPPath, binaryName(cfg.Captions.Binary)),
	})

	if _, err := ytdlp.CheckJSRuntime(cfg.Captions.JSRuntime); err != nil {
		checks = append(checks, DoctorCheck{Name: "dependency:js-runtime", OK: false, Message: err.Error()})
	} else {
		checks = append(checks, DoctorCheck{Name: "dependency:js-runtime", OK: true, Message: "runtime " + orDefault(cfg.Captions.JSRuntime, "auto")})
	}

	ok, msg := ensureWritableDir(cfg.Run.OutputRoot)
	checks = append(checks, DoctorCheck{Name: "directory:output", OK: ok, Message: msg})

	if cfg.Cache.Enabled {
		ok, msg := ensureWritableDir(filepath.Dir(cfg.Cache.Path))
		checks = append(checks, DoctorCheck{Name: "directory:cache", OK: ok, Message: msg})
	}

	checks = append(checks, DoctorCheck{
		Name:     "tier:proxied",
		OK:       cfg.ProxyEnabled(),
		Optional: true,
		Message:  tierMessage(cfg.ProxyEnabled(), fmt.Sprintf("%d proxy url(s)", len(cfg.Proxy.URLs)), "no proxy urls; set [proxy].urls or "+config.EnvProxyURLs),
	})
	checks = append(checks, DoctorCheck{
		Name:     "tier:managed",
		OK:       cfg.ManagedEnabled(),
		Optional: true,
		Message:  tierMessage(cfg.ManagedEnabled(), "api key present", "no api key; set [managed].api_key or "+config.EnvManagedAPIKey),
	})

	res := DoctorResult{OK: true, Checks: checks}
	for _, c := range checks {
		if !c.OK && !c.Optional {
			res.OK = false
			break
		}
	}
	return res
}

func printDoctor(cc *commandContext, res DoctorResult) {
	for _, c := range res.Checks {
		mark := okStyle.Render("ok  ")
		switch {
		case !c.OK && c.Optional:
			mark = mutedStyle.Render("skip")
		case !c.OK:
			mark = errorStyle.Render("FAIL")
		}
		fmt.Fprintf(cc.stdout, "%s %-22s %s\n", mark, c.Name, c.Message)
	}
}

func dependencyMessage(ok bool, path, name string) string {
	if ok {
		return name + " found at " + path
	}
	return name + " not found on PATH"
}

func tierMessage(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}

func binaryName(b string) string {
	return orDefault(b, ytdlp.DefaultBinary)
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func ensureWritableDir(path string) (bool, string) {
	if strings.TrimSpace(path) == "" {
		return false, "empty path"
	}
	if err := runstore.Mkdir(path); err != nil {
		return false, err.Error()
	}
	f, err := os.CreateTemp(path, "yt-transcripts-check-*.tmp")
	if err != nil {
		return false, err.Error()
	}
	_ = f.Close()
	_ = os.Remove(f.Name())
	return true, path + " writable"
}
