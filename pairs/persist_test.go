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

package pairs

import (
	"context"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func TestSaveOpen(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()

	s := filterStore(t)
	addPair(t, s, "chr2", 100, -1, "chr2", 4500, 1)
	s.readStats["unmappable"] = 7
	s.readStats["total"] = 13
	d := int64(1000)
	_, err := s.FilterSelfLigated(true)
	assert.NoError(t, err)
	_, err = s.FilterInward(&d, true)
	assert.NoError(t, err)
	_, err = s.RunQueuedFilters()
	assert.NoError(t, err)
	assert.NoError(t, s.Save(ctx, tempDir))

	got, err := Open(ctx, tempDir)
	assert.NoError(t, err)
	expect.EQ(t, got.Len(), s.Len())
	expect.EQ(t, got.Partitions(), s.Partitions())
	expect.EQ(t, got.Masks(), s.Masks())
	expect.EQ(t, got.Regions().Regions(), s.Regions().Regions())
	expect.EQ(t, got.FilterStatistics(), s.FilterStatistics())
	expect.EQ(t, got.FilterStatistics()["total"], int64(13))
	for i := 0; i < s.Len(); i++ {
		want, err := s.Edge(i)
		assert.NoError(t, err)
		e, err := got.Edge(i)
		assert.NoError(t, err)
		expect.EQ(t, e, want)
	}
	expect.EQ(t, len(collect(t, got.Pairs(nil, false))), 4)

	// New rows continue the sequence.
	addPair(t, got, "chr1", 100, 1, "chr1", 9000, -1)
	e, err := got.Edge(4)
	assert.NoError(t, err)
	expect.EQ(t, e.Ix, int32(6))

	// Masking after a reload keeps using the saved registry.
	_, err = got.FilterInward(&d, false)
	assert.NoError(t, err)
	expect.EQ(t, len(got.Masks()), len(s.Masks()))
}

func TestOpenCorrupt(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()

	_, err := Open(ctx, tempDir)
	expect.NotNil(t, err)

	s := filterStore(t)
	assert.NoError(t, s.Save(ctx, tempDir))
	partitions := "source\tsink\trows\n0\t0\t5\n"
	assert.NoError(t, ioutil.WriteFile(filepath.Join(tempDir, partitionsFile), []byte(partitions), 0644))
	_, err = Open(ctx, tempDir)
	expect.True(t, errors.Is(errors.Invalid, err))
}
