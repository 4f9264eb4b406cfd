// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecompose_SimpleQuestionSkipsModel(t *testing.T) {
	mock := newMockLLM()
	d := NewDecomposer(mock)

	subs := d.Decompose(context.Background(), "What is the company headquarters?")

	assert.Equal(t, []string{"What is the company headquarters?"}, subs)
	assert.Equal(t, 0, mock.callCount)
}

func TestDecompose_ComplexQuestion(t *testing.T) {
	mock := newMockLLM().on("query decomposition expert",
		`["What is revenue in Q1?", "What is revenue in Q2?", "What is the trend?"]`)
	d := NewDecomposer(mock)

	subs := d.Decompose(context.Background(), "Compare Q1 and Q2 revenue trend")

	require.Len(t, subs, 3)
	assert.Equal(t, "What is revenue in Q1?", subs[0])
}

func TestDecompose_NeverEmpty(t *testing.T) {
	question := "Compare Q1 and Q2 revenue"

	tests := []struct {
		name string
		mock *mockLLM
	}{
		{"model error", func() *mockLLM { m := newMockLLM(); m.err = errors.New("down"); return m }()},
		{"unparseable output", newMockLLM().on("query decomposition expert", "I'd rather not.")},
		{"empty array", newMockLLM().on("query decomposition expert", "[]")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDecomposer(tt.mock)
			subs := d.Decompose(context.Background(), question)
			require.NotEmpty(t, subs)
			assert.Equal(t, []string{question}, subs)
		})
	}
}

func TestIsComplex_Markers(t *testing.T) {
	assert.True(t, isComplex("Calculate the total"))
	assert.True(t, isComplex("What happened in Q3?"))
	assert.True(t, isComplex("Revenue before and after the merger"))
	assert.False(t, isComplex("Who is the CEO?"))
}
