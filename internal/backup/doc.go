// Package backup implements the backup strategy framework.
//
// Every strategy implements one capability interface and is selected by
// probing: the Factory runs TestCapabilities on each candidate registered
// for the connection's dialect, keeps those that pass and picks the one with
// the lowest priority value. Ties keep registration order.
//
// Strategies:
//
//   - sqlite-native: binary copy through VACUUM INTO, restored with the
//     SQLite online backup API
//   - mysql-dump, postgres-dump, sqlite-dump: the dialect's dump utility run
//     through the process executor, credentials in the environment only
//   - sql-generation: in-process introspection and SQL rendering; the only
//     strategy that can translate a backup into another dialect
//
// A backup artifact is the dump itself, optionally compressed and encrypted,
// plus a YAML sidecar (<file>.meta.yaml) with its checksum. Artifacts can be
// copied to local, S3, Azure Blob or GCS storage through a Store.
//
// Example usage:
//
//	factory := backup.NewFactory(backup.StrategyConfig{DB: db, Connection: *cfg, Logger: logger})
//	strategy, err := factory.Select(ctx, "")
//	if err != nil {
//		return err
//	}
//	result, err := strategy.CreateBackup(ctx, "shop.sql.zst", backup.Options{Compression: backup.CompressionZstd})
package backup
