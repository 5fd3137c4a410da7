// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// modulectl declares modules from HCL files, runs scenarios against their instances and inspects
// the saved checkpoints and snapshots.
//
// Examples:
//
//	modulectl run model.hcl --scenario train.yaml --checkpoint ~/work/model --keep 3
//	modulectl inspect ~/work/model
//	modulectl history --db ~/work/snapshots.db
package main

import (
	"flag"
	"os"

	"k8s.io/klog/v2"
)

func main() {
	klogFlags := flag.NewFlagSet("klog", flag.ExitOnError)
	klog.InitFlags(klogFlags)
	cmd := newRootCommand()
	cmd.PersistentFlags().AddGoFlagSet(klogFlags)
	err := cmd.Execute()
	klog.Flush()
	if err != nil {
		os.Exit(1)
	}
}
