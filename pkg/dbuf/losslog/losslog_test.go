package losslog_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/dbufcache/pkg/dbuf"
	"github.com/marmos91/dbufcache/pkg/dbuf/losslog"
)

func TestRecordAndTotalBytesLost(t *testing.T) {
	dir := t.TempDir()
	log, err := losslog.Open(dir)
	require.NoError(t, err)
	defer log.Close()

	coord := dbuf.Coord{Dataset: "tank", Object: 1, Level: 0, BlockID: 5}
	require.NoError(t, log.Record(losslog.Entry{Coord: coord, TXG: 1, Bytes: 100}))
	require.NoError(t, log.Record(losslog.Entry{Coord: coord, TXG: 2, Bytes: 250}))

	total, err := log.TotalBytesLost()
	require.NoError(t, err)
	require.Equal(t, int64(350), total)
}

func TestReportLossImplementsLossReporter(t *testing.T) {
	dir := t.TempDir()
	log, err := losslog.Open(dir)
	require.NoError(t, err)
	defer log.Close()

	var reporter dbuf.LossReporter = log
	reporter.ReportLoss(dbuf.Coord{Dataset: "tank", Object: 2, Level: 0, BlockID: 1}, 3, 64)

	total, err := log.TotalBytesLost()
	require.NoError(t, err)
	require.Equal(t, int64(64), total)
}
