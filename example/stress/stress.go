// Command stress hammers an OVSDB server with bridge insert/delete
// transactions while monitoring Open_vSwitch, counting the notifications
// that come back. It exercises the Client Façade's transact and monitor
// paths the way the teacher's stress tool exercised its ORM layer, using
// raw Row values instead since typed-row wrappers are out of scope here.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"runtime"
	"runtime/pprof"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/networkop/ovsdb-vtep"
)

var (
	cpuprofile = flag.String("cpuprofile", "", "write cpu profile to this file")
	memprofile = flag.String("memoryprofile", "", "write memory profile to this file")
	nins       = flag.Int("ninserts", 100, "insert this number of elements in the database")
	verbose    = flag.Bool("verbose", false, "be verbose")
	connection = flag.String("ovsdb", "unix:/var/run/openvswitch/db.sock", "OVSDB connection string")

	insertions int64
	deletions  int64
)

const dbName = "Open_vSwitch"

type counter struct {
	schema *ovsdb.DatabaseSchema
}

func (c *counter) Update(updates *ovsdb.TableUpdates, _ *ovsdb.DatabaseSchema) {
	bridgeUpdate, ok := updates.Updates["Bridge"]
	if !ok {
		return
	}
	for _, ru := range bridgeUpdate.Rows {
		switch {
		case ru.New != nil && ru.Old == nil:
			atomic.AddInt64(&insertions, 1)
		case ru.New == nil && ru.Old != nil:
			atomic.AddInt64(&deletions, 1)
		}
	}
}

func run(ctx context.Context) {
	client, err := ovsdb.Connect(*connection, nil)
	if err != nil {
		log.Fatal(err)
	}
	defer client.Disconnect()

	schema, err := client.GetSchema(ctx, dbName)
	if err != nil {
		log.Fatal(err)
	}

	if _, _, err := client.MonitorAll(ctx, schema, &counter{schema: schema}, 0); err != nil {
		log.Fatal(err)
	}

	ovsTable := schema.Table("Open_vSwitch")
	bridgeTable := schema.Table("Bridge")

	rootUUID, err := findRootUUID(ctx, client, schema, ovsTable)
	if err != nil {
		log.Fatal(err)
	}

	existing, err := selectAllBridges(ctx, client, schema, bridgeTable)
	if err != nil {
		log.Fatal(err)
	}
	for _, row := range existing {
		deleteBridge(ctx, client, schema, rootUUID, row)
	}

	for i := 0; i < *nins; i++ {
		createBridge(ctx, client, schema, rootUUID, i)
	}
}

func findRootUUID(ctx context.Context, client *ovsdb.Client, schema *ovsdb.DatabaseSchema, ovsTable *ovsdb.TableSchema) (string, error) {
	op := ovsdb.Operation{Op: "select", Table: ovsTable.Name, Columns: []string{"_uuid"}}
	results, err := client.Transact(ctx, schema, op)
	if err != nil {
		return "", err
	}
	rows, err := results[0].DecodeRows(ovsTable)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", fmt.Errorf("no Open_vSwitch row found")
	}
	u, _ := rows[0]["_uuid"].(ovsdb.UUID)
	if *verbose {
		fmt.Printf("rootUUID is %v\n", u.GoUUID)
	}
	return u.GoUUID, nil
}

func selectAllBridges(ctx context.Context, client *ovsdb.Client, schema *ovsdb.DatabaseSchema, bridgeTable *ovsdb.TableSchema) ([]ovsdb.Row, error) {
	op := ovsdb.Operation{Op: "select", Table: bridgeTable.Name, Columns: []string{"_uuid", "name"}}
	results, err := client.Transact(ctx, schema, op)
	if err != nil {
		return nil, err
	}
	return results[0].DecodeRows(bridgeTable)
}

func doTransact(ctx context.Context, client *ovsdb.Client, schema *ovsdb.DatabaseSchema, ops ...ovsdb.Operation) (bool, string) {
	results, err := client.Transact(ctx, schema, ops...)
	if err != nil {
		log.Fatal(err)
	}
	ok := true
	var firstUUID string
	for i, r := range results {
		if r.Failed() {
			fmt.Println("transaction failed:", r.Error, r.Details, "in", ops[i])
			ok = false
		}
		if i == 0 {
			firstUUID = r.UUID.GoUUID
		}
	}
	return ok, firstUUID
}

func deleteBridge(ctx context.Context, client *ovsdb.Client, schema *ovsdb.DatabaseSchema, rootUUID string, bridge ovsdb.Row) {
	bridgeUUID, _ := bridge["_uuid"].(ovsdb.UUID)
	bridgeName, _ := bridge["name"].(string)
	bridgeTable := schema.Table("Bridge")
	ovsTable := schema.Table("Open_vSwitch")

	deleteOp := ovsdb.Operation{
		Op:        "delete",
		Table:     bridgeTable.Name,
		Where:     []interface{}{[]interface{}{"_uuid", "==", bridgeUUID}},
		DeviceKey: &ovsdb.DeviceKeyRef{Class: "Bridge", Key: bridgeName},
	}
	mutation, err := ovsdb.NewMutation(ovsTable.Column("bridges"), "delete", []interface{}{bridgeUUID})
	if err != nil {
		log.Fatal(err)
	}
	mutateOp := ovsdb.Operation{
		Op:        "mutate",
		Table:     ovsTable.Name,
		Where:     []interface{}{[]interface{}{"_uuid", "==", ovsdb.UUID{GoUUID: rootUUID}}},
		Mutations: []interface{}{mutation},
	}

	ok, _ := doTransact(ctx, client, schema, deleteOp, mutateOp)
	if ok && *verbose {
		fmt.Println("bridge deletion successful:", bridgeUUID.GoUUID)
	}
}

func createBridge(ctx context.Context, client *ovsdb.Client, schema *ovsdb.DatabaseSchema, rootUUID string, iter int) {
	bridgeTable := schema.Table("Bridge")
	ovsTable := schema.Table("Open_vSwitch")
	namedUUID := uuid.NewString()

	row := map[string]interface{}{
		"name": fmt.Sprintf("bridge-%d", iter),
		"other_config": map[interface{}]interface{}{
			"foo":  "bar",
			"fake": "config",
		},
		"external_ids": map[interface{}]interface{}{
			"key1": "val1",
			"key2": "val2",
		},
	}
	wireRow, err := ovsdb.RowToJSON(bridgeTable, row)
	if err != nil {
		log.Fatal(err)
	}
	insertOp := ovsdb.Operation{
		Op:        "insert",
		Table:     bridgeTable.Name,
		Row:       wireRow,
		UUIDName:  namedUUID,
		DeviceKey: &ovsdb.DeviceKeyRef{Class: "Bridge", Key: row["name"].(string)},
	}

	mutation, err := ovsdb.NewMutation(ovsTable.Column("bridges"), "insert", []interface{}{ovsdb.UUID{GoUUID: namedUUID, Named: true}})
	if err != nil {
		log.Fatal(err)
	}
	mutateOp := ovsdb.Operation{
		Op:        "mutate",
		Table:     ovsTable.Name,
		Where:     []interface{}{[]interface{}{"_uuid", "==", ovsdb.UUID{GoUUID: rootUUID}}},
		Mutations: []interface{}{mutation},
	}

	ok, newUUID := doTransact(ctx, client, schema, insertOp, mutateOp)
	if ok && *verbose {
		fmt.Println("bridge addition successful:", newUUID)
	}
}

func main() {
	flag.Parse()
	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal(err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal(err)
		}
		defer pprof.StopCPUProfile()
	}

	run(context.Background())

	fmt.Printf("Summary:\n")
	fmt.Printf("\tInsertions: %d\n", atomic.LoadInt64(&insertions))
	fmt.Printf("\tDeletions: %d\n", atomic.LoadInt64(&deletions))

	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		if err != nil {
			log.Fatal(err)
		}
		defer f.Close()
		runtime.GC()
		if err := pprof.WriteHeapProfile(f); err != nil {
			log.Fatal("could not write memory profile: ", err)
		}
	}
}
