// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteThenReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registers.bin")
	rf, err := Open(path, 0x0010, 4, nil)
	require.NoError(t, err)
	defer rf.Close()

	err = rf.WriteMultipleRegisters(0x0010, 2, []byte{0x00, 0xAA, 0x00, 0xBB})
	require.NoError(t, err)

	data, err := rf.ReadHoldingRegisters(0x0010, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0xAA, 0x00, 0xBB}, data)
}

func TestOutOfBoundsAccessErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registers.bin")
	rf, err := Open(path, 0, 4, nil)
	require.NoError(t, err)
	defer rf.Close()

	_, err = rf.ReadHoldingRegisters(3, 2)
	assert.Error(t, err)
}

func TestSetGetDirectAccess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registers.bin")
	rf, err := Open(path, 100, 4, nil)
	require.NoError(t, err)
	defer rf.Close()

	require.NoError(t, rf.Set(101, 0x1234))
	v, err := rf.Get(101)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1234), v)
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registers.bin")
	rf, err := Open(path, 0, 2, nil)
	require.NoError(t, err)
	require.NoError(t, rf.WriteMultipleRegisters(0, 1, []byte{0x12, 0x34}))
	require.NoError(t, rf.Close())

	rf2, err := Open(path, 0, 2, nil)
	require.NoError(t, err)
	defer rf2.Close()

	v, err := rf2.Get(0)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1234), v)
}
