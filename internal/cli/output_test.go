package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutput_Table(t *testing.T) {
	var data, notes bytes.Buffer
	out := newOutputTo(false, &data, &notes)

	out.Print([]string{"PARTITION", "STATUS"}, [][]string{{"chr1", "succeeded"}, {"chr2", ""}}, nil)
	out.Success("done")

	assert.Equal(t, "PARTITION  STATUS\nchr1       succeeded\nchr2       -\n", data.String())
	assert.Equal(t, "done\n", notes.String())
}

func TestOutput_JSON(t *testing.T) {
	var data, notes bytes.Buffer
	out := newOutputTo(true, &data, &notes)

	out.Print(nil, nil, []partitionReport{{Partition: "chr1", Status: "failed", Error: "boom"}})
	out.Success("done")

	var got []partitionReport
	require.NoError(t, json.Unmarshal(data.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "boom", got[0].Error)
	assert.Empty(t, notes.String())
}

func TestOutput_LineSkipsEmptyFields(t *testing.T) {
	var data bytes.Buffer
	out := newOutputTo(false, &data, &data)

	out.Line("ts", "task", "", "SUCCEEDED")
	assert.Equal(t, "ts  task  SUCCEEDED\n", data.String())
}
