// Package config loads YAML configuration for the mcctl CLI.
//
// Values support ${VAR} environment substitution so tokens can stay out of
// config files.
package config
