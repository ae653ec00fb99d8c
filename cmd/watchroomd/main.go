package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/watchroom/client/internal/app"
)

type configVar[T any] struct {
	envKey       string
	flagKey      string
	defaultValue T
}

var (
	host = configVar[string]{
		envKey:       "WATCHROOM_HOST",
		flagKey:      "host",
		defaultValue: "0.0.0.0",
	}
	port = configVar[int]{
		envKey:       "WATCHROOM_PORT",
		flagKey:      "port",
		defaultValue: 8080,
	}
	logLevel = configVar[string]{
		envKey:       "WATCHROOM_LOG_LEVEL",
		flagKey:      "log-level",
		defaultValue: "INFO",
	}
	roomTTL = configVar[time.Duration]{
		envKey:       "WATCHROOM_ROOM_TTL",
		flagKey:      "room-ttl",
		defaultValue: 24 * time.Hour,
	}
	redisHost = configVar[string]{
		envKey:       "REDIS_HOST",
		flagKey:      "redis-host",
		defaultValue: "localhost",
	}
	redisPort = configVar[int]{
		envKey:       "REDIS_PORT",
		flagKey:      "redis-port",
		defaultValue: 6379,
	}
	redisPassword = configVar[string]{
		envKey:       "REDIS_PASSWORD",
		flagKey:      "redis-password",
		defaultValue: "",
	}
)

func loadAppConfig() *app.AppConfig {
	pflag.String(host.flagKey, host.defaultValue, "Server host")
	pflag.Int(port.flagKey, port.defaultValue, "Server port")
	pflag.String(logLevel.flagKey, logLevel.defaultValue, "Logging level")
	pflag.Duration(roomTTL.flagKey, roomTTL.defaultValue, "Room expiry")
	pflag.String(redisHost.flagKey, redisHost.defaultValue, "Redis host")
	pflag.Int(redisPort.flagKey, redisPort.defaultValue, "Redis port")
	pflag.String(redisPassword.flagKey, redisPassword.defaultValue, "Redis password")
	pflag.Parse()

	viper.BindPFlags(pflag.CommandLine)

	viper.BindEnv(host.flagKey, host.envKey)
	viper.BindEnv(port.flagKey, port.envKey)
	viper.BindEnv(logLevel.flagKey, logLevel.envKey)
	viper.BindEnv(roomTTL.flagKey, roomTTL.envKey)
	viper.BindEnv(redisHost.flagKey, redisHost.envKey)
	viper.BindEnv(redisPort.flagKey, redisPort.envKey)
	viper.BindEnv(redisPassword.flagKey, redisPassword.envKey)

	viper.SetDefault(host.flagKey, host.defaultValue)
	viper.SetDefault(port.flagKey, port.defaultValue)
	viper.SetDefault(logLevel.flagKey, logLevel.defaultValue)
	viper.SetDefault(roomTTL.flagKey, roomTTL.defaultValue)
	viper.SetDefault(redisHost.flagKey, redisHost.defaultValue)
	viper.SetDefault(redisPort.flagKey, redisPort.defaultValue)
	viper.SetDefault(redisPassword.flagKey, redisPassword.defaultValue)

	return &app.AppConfig{
		Host:          viper.GetString(host.flagKey),
		Port:          viper.GetInt(port.flagKey),
		LogLevel:      viper.GetString(logLevel.flagKey),
		RoomTTL:       viper.GetDuration(roomTTL.flagKey),
		RedisHost:     viper.GetString(redisHost.flagKey),
		RedisPort:     viper.GetInt(redisPort.flagKey),
		RedisPassword: viper.GetString(redisPassword.flagKey),
	}
}

func main() {
	ctx := context.Background()

	appConfig := loadAppConfig()

	jsonConfig, _ := json.MarshalIndent(appConfig, "", "  ")
	fmt.Printf("starting app with config: %s\n", jsonConfig)

	log.Fatal(app.Run(ctx, appConfig))
}
