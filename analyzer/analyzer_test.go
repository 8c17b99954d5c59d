package analyzer

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/tools/go/analysis/analysistest"
)

func TestAll(t *testing.T) {
	analysistest.Run(t, analysistest.TestData(), Analyzer, "p")
}

func TestNonDeterministicCalls(t *testing.T) {
	result := analysistest.Run(t, analysistest.TestData(), Analyzer, "q")
	for _, r := range result {
		require.NoError(t, r.Err)
		require.Len(t, r.Diagnostics, 4)
	}
}
