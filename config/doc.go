// Package config loads conduit configuration with Viper.
//
// Sources, lowest precedence first: the YAML config file, a dotenv file and
// CONDUIT_-prefixed environment variables. Values decode through
// mapstructure tags, so every config struct in the module can be embedded
// in the application config.
//
//	var cfg Config
//	err := config.LoadConfig("conduit", &cfg, config.WithConfigFile(path))
package config
