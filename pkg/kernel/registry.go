// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernel

import (
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Constructor takes a config string (optionally empty) and returns a Device.
type Constructor func(config string) (Device, error)

var (
	muRegistry             sync.Mutex
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register a device with the given name, and a constructor that takes as input a configuration string.
//
// To be safe, call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	muRegistry.Lock()
	defer muRegistry.Unlock()
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// RegisteredDevices returns the sorted names of the registered devices.
func RegisteredDevices() []string {
	muRegistry.Lock()
	defer muRegistry.Unlock()
	names := make([]string, 0, len(registeredConstructors))
	for name := range registeredConstructors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// DefaultConfig is the default device configuration to use, if AUTOTUNE_DEVICE is not set.
var DefaultConfig string

// AUTOTUNE_DEVICE is the environment variable with the default device configuration to use.
//
// The format of config is "<device_name>:<device_configuration>".
const AUTOTUNE_DEVICE = "AUTOTUNE_DEVICE"

// NewDevice returns a new default Device.
//
// The default is:
//
// 1. The environment AUTOTUNE_DEVICE is used as a configuration if defined.
// 2. Next the variable DefaultConfig is used as a configuration if defined.
// 3. The first registered device is used with an empty configuration.
func NewDevice() (Device, error) {
	if config, found := os.LookupEnv(AUTOTUNE_DEVICE); found {
		return NewDeviceWithConfig(config)
	}
	return NewDeviceWithConfig(DefaultConfig)
}

// NewDeviceWithConfig takes a configuration string formatted as "<device_name>:<device_configuration>"
// and creates the corresponding registered device. The name alone is also accepted.
func NewDeviceWithConfig(config string) (Device, error) {
	muRegistry.Lock()
	if len(registeredConstructors) == 0 {
		muRegistry.Unlock()
		return nil, errors.New(`no registered devices -- maybe import the cpu one with import _ "github.com/gomlx/autotune/pkg/devices/cpu"?`)
	}
	name := firstRegistered
	deviceConfig := config
	if idx := strings.Index(config, ":"); idx != -1 {
		name = config[:idx]
		deviceConfig = config[idx+1:]
	} else if config != "" {
		name = config
		deviceConfig = ""
	}
	constructor, found := registeredConstructors[name]
	muRegistry.Unlock()
	if !found {
		return nil, errors.Errorf("can't find device %q for configuration %q given", name, config)
	}
	device, err := constructor(deviceConfig)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create device %q", name)
	}
	return device, nil
}
