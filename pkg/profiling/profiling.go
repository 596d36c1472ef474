package profiling

import (
	"context"
	"os"
	"runtime"

	"rewardmint/pkg/config"

	"github.com/grafana/pyroscope-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("profiling", fx.Invoke(startProfiler))

var baseProfiles = []pyroscope.ProfileType{
	pyroscope.ProfileCPU,
	pyroscope.ProfileAllocSpace,
	pyroscope.ProfileInuseSpace,
	pyroscope.ProfileGoroutines,
}

// profileTypes adds lock profiling outside production, where mint workers
// waiting on the ledger connection show up as mutex and block samples.
func profileTypes(env string) []pyroscope.ProfileType {
	types := append([]pyroscope.ProfileType(nil), baseProfiles...)
	if env != "production" {
		types = append(types, pyroscope.ProfileMutexCount, pyroscope.ProfileBlockCount)
	}
	return types
}

func profilerConfig(c *config.Config) pyroscope.Config {
	host, _ := os.Hostname()
	return pyroscope.Config{
		ApplicationName: c.AppName,
		ServerAddress:   c.Pyroscope.Addr,
		ProfileTypes:    profileTypes(c.AppEnv),
		Tags: map[string]string{
			"env":     c.AppEnv,
			"version": c.AppVersion,
			"host":    host,
		},
	}
}

func startProfiler(lc fx.Lifecycle, c *config.Config) error {
	if c.Pyroscope.Addr == "" {
		return nil
	}

	if c.AppEnv != "production" {
		runtime.SetMutexProfileFraction(5)
		runtime.SetBlockProfileRate(5)
	}

	profiler, err := pyroscope.Start(profilerConfig(c))
	if err != nil {
		return err
	}
	zap.L().Info("[Pyroscope] profiling enabled", zap.String("addr", c.Pyroscope.Addr), zap.String("app", c.AppName))

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return profiler.Stop()
		},
	})
	return nil
}
