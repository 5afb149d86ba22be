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

package main

import (
	"testing"

	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func TestParseDistance(t *testing.T) {
	ok, d, err := parseDistance("inward", "")
	assert.NoError(t, err)
	expect.False(t, ok)
	expect.True(t, d == nil)

	ok, d, err = parseDistance("inward", "auto")
	assert.NoError(t, err)
	expect.True(t, ok)
	expect.True(t, d == nil)

	ok, d, err = parseDistance("outward", "25000")
	assert.NoError(t, err)
	expect.True(t, ok)
	assert.True(t, d != nil)
	expect.EQ(t, *d, int64(25000))

	_, _, err = parseDistance("outward", "far")
	assert.HasSubstr(t, err.Error(), "-outward")
}

func TestSortedNames(t *testing.T) {
	expect.EQ(t, sortedNames(map[string]int64{"total": 3, "contaminant": 1, "map quality": 2}),
		[]string{"contaminant", "map quality", "total"})
}
