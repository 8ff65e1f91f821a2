package main

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	BadgerFilepath string `envconfig:"BADGER_FILEPATH" default:"./data/audit"`
	// INSPECT_COLOURS highlights flagged rows.
	Colours bool `envconfig:"INSPECT_COLOURS" default:"true"`
	Limit   int  `envconfig:"INSPECT_LIMIT" default:"50"`
	// INSPECT_CONTENT_WIDTH truncates message bodies, 0 keeps them whole.
	ContentWidth int `envconfig:"INSPECT_CONTENT_WIDTH" default:"60"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
