// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"os"

	"github.com/bassosimone/doh3probe"
	"github.com/bassosimone/runtimex"
)

func main() {
	os.Setenv("QUIC_GO_DISABLE_RECEIVE_BUFFER_WARNING", "true")

	keyLog := runtimex.PanicOnError1(doh3probe.KeyLogFileFromEnv())
	defer keyLog.Close()

	probe := doh3probe.NewProbe()
	probe.KeyLogWriter = keyLog
	probe.Logger = doh3probe.NewLoggerFromEnv()

	// A failing run aborts the remaining ones.
	ctx := context.Background()
	runtimex.PanicOnError0(probe.RunAll(ctx, doh3probe.DefaultRunConfigs()))
}
