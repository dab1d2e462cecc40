// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package vers contains the version parsing of the configuration files.
// The version is read before the remaining settings, so an incompatible
// file can be rejected with a precise error instead of a confusing
// decoding failure of some renamed or moved item.
package vers

import (
	"fmt"

	"github.com/momeni/pg-logidater/pkg/core/cerr"
	"github.com/momeni/pg-logidater/pkg/core/model"
	"gopkg.in/yaml.v3"
)

// Config contains the configuration file format version. It may be
// embedded with inline format in the Config struct of the config
// package.
type Config struct {
	Version model.SemVer `yaml:"version"`
}

// Load deserializes the data byte slice into a new instance of Config
// struct. Other items of data are ignored.
func Load(data []byte) (*Config, error) {
	vc := &Config{}
	if err := yaml.Unmarshal(data, vc); err != nil {
		return nil, err
	}
	return vc, nil
}

// Validate returns an error if the version which is stored in `vc`
// is not supported by the given major and minor version arguments.
// That is, stored major version must match with the major argument
// and the stored minor version must not be newer than minor.
func (vc *Config) Validate(major, minor uint) error {
	v := vc.Version
	if v[0] != major {
		return &cerr.MismatchingMajorError{Expected: major, Actual: v}
	}
	if v[1] > minor {
		return fmt.Errorf("unsupported minor version: %d", v[1])
	}
	return nil
}
