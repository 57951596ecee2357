package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyEmptyRuleListIsIdentity(t *testing.T) {
	t.Parallel()

	n, err := Compile(nil)
	require.NoError(t, err)

	const doc = "<wsdl>Genereerimise aeg: 22.03.2019 08:00:30</wsdl>"
	assert.Equal(t, doc, n.Apply(doc))
	assert.Zero(t, n.Len())
}

func TestApplyReplacesAllOccurrences(t *testing.T) {
	t.Parallel()

	n, err := Compile([][2]string{
		{`Genereerimise aeg: \d{2}\.\d{2}\.\d{4} \d{2}:\d{2}:\d{2}`, "Genereerimise aeg: DELETED"},
	})
	require.NoError(t, err)

	doc := "a Genereerimise aeg: 22.03.2019 08:00:30 b Genereerimise aeg: 23.03.2019 09:10:11 c"
	want := "a Genereerimise aeg: DELETED b Genereerimise aeg: DELETED c"
	assert.Equal(t, want, n.Apply(doc))
}

func TestApplyIsDeterministic(t *testing.T) {
	t.Parallel()

	n, err := Compile([][2]string{{`\d+`, "N"}})
	require.NoError(t, err)

	const doc = "version 12 of 345"
	first := n.Apply(doc)
	second := n.Apply(doc)
	assert.Equal(t, first, second)
}

func TestApplyRulesRunInOrder(t *testing.T) {
	t.Parallel()

	n, err := Compile([][2]string{
		{`cat`, "dog"},
		{`dog`, "bird"},
	})
	require.NoError(t, err)

	// A later rule sees the output of the earlier one.
	assert.Equal(t, "bird bird", n.Apply("cat dog"))
}

func TestCompileRejectsInvalidPattern(t *testing.T) {
	t.Parallel()

	_, err := Compile([][2]string{{`([unclosed`, ""}})
	require.Error(t, err)
}

func TestApplyNilNormalizer(t *testing.T) {
	t.Parallel()

	var n *Normalizer
	assert.Equal(t, "doc", n.Apply("doc"))
	assert.Zero(t, n.Len())
}
