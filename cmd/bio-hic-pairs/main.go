// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// bio-hic-pairs builds and queries Hi-C fragment read-pair stores.
//
// Subcommands:
//
//	load    resolve read pairs to restriction fragments and save a store
//	filter  mask artifact pairs of a saved store
//	stats   print the filter statistics of a store
//	matrix  write the fragment contact matrix of a store
package main

import (
	"github.com/grailbio/base/grail"
	"v.io/x/lib/cmdline"
)

func main() {
	shutdown := grail.Init()
	defer shutdown()
	cmdline.HideGlobalFlagsExcept()
	cmdline.Main(&cmdline.Command{
		Name:  "bio-hic-pairs",
		Short: "Build and query Hi-C fragment read-pair stores",
		Children: []*cmdline.Command{
			newCmdLoad(),
			newCmdFilter(),
			newCmdStats(),
			newCmdMatrix(),
		},
	})
}
