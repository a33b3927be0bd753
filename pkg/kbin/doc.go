// Package kbin provides a high-level API for discovering the boxes of an ISO
// base media (MP4 style) container while its bytes are still arriving.
//
// # Overview
//
// A Session accepts chunks of the stream in any order, possibly overlapping or
// duplicated, and reports each box header as soon as the bytes it needs are
// buffered. It supports:
//
//   - Out-of-order and overlapping chunk delivery
//   - Reclaiming memory for data the parser has moved past
//   - Capturing the body of small boxes (ftyp, mvhd, tkhd, ...)
//   - Selecting boxes with CEL or expr predicates
//   - Custom box catalogs loaded from YAML
//
// # Quick Start
//
//	session, err := kbin.NewSession()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for chunk := range download {
//	    boxes, err := session.Append(ctx, chunk.Offset, chunk.Data)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    for _, b := range boxes {
//	        fmt.Println(b.Path, b.Size)
//	    }
//	}
//
// For data that is already available as an io.Reader:
//
//	boxes, err := kbin.ParseReader(ctx, file, 64*1024)
//
// # Configuration Options
//
//   - WithLogger(*slog.Logger): Custom logging
//   - WithCatalog(*boxparse.Catalog) / WithCatalogPath(string): Box catalog
//   - WithFilter(language, source): Only return matching boxes
//   - WithEventHandler(multibuf.EventHandler): Buffer diagnostics
//   - WithReportEvery(int): Reclaim consumed chunks every n appends
//   - WithCapturePayloads(bool): Copy bodies of boxes marked capture
//
// # Filters
//
// Filters see the box fields fourcc, start, size, header_size, depth, path and
// user_type, plus the helpers inside(path, type) and parent(path):
//
//	kbin.WithFilter("cel", `inside(path, "trak") && fourcc == "tkhd"`)
//	kbin.WithFilter("expr", `fourcc in ["moov", "moof"]`)
//
// # Thread Safety
//
// A Session is not safe for concurrent use. Use one session per stream.
package kbin
